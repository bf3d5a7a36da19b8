package httpapi

import (
	"net/http"
	"strconv"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/platform"
)

// StorageHandlers expose the public object-storage surface: presigned
// upload/download, prefix listing (secret key only), and
// deletion.
type StorageHandlers struct {
	platform *platform.Context
}

// signedUploadRequest is the documented POST /v1/storage/signed-upload
// body: {bucket, path, contentType, maxSize?}.
type signedUploadRequest struct {
	Bucket      string `json:"bucket"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
	MaxSize     int64  `json:"maxSize"`
}

func (h *StorageHandlers) SignedUpload(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}

	var req signedUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.platform.Storage.PresignUpload(r.Context(), pc.ProjectID, req.Bucket, req.Path, req.ContentType, req.MaxSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *StorageHandlers) SignedDownload(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}

	bucket := r.URL.Query().Get("bucket")
	objectKey := r.URL.Query().Get("objectKey")
	if bucket == "" || objectKey == "" {
		writeError(w, apperr.BadRequest("bucket and objectKey query parameters are required"))
		return
	}

	url, expiresIn, err := h.platform.Storage.PresignDownload(r.Context(), pc.ProjectID, bucket, objectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": url, "expiresIn": expiresIn})
}

// List enumerates objects under a logical bucket prefix. Restricted to
// secret-key callers: a publishable key gets 403.
func (h *StorageHandlers) List(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}
	if pc.KeyType != models.ApiKeySecret {
		writeError(w, apperr.Forbidden("listing objects requires a secret key"))
		return
	}

	bucket := r.URL.Query().Get("bucket")
	prefix := r.URL.Query().Get("prefix")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	objects, err := h.platform.Storage.List(r.Context(), pc.ProjectID, bucket, prefix, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func (h *StorageHandlers) DeleteObject(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}

	bucket := r.URL.Query().Get("bucket")
	objectKey := r.URL.Query().Get("objectKey")
	if bucket == "" || objectKey == "" {
		writeError(w, apperr.BadRequest("bucket and objectKey query parameters are required"))
		return
	}

	if err := h.platform.Storage.Delete(r.Context(), pc.ProjectID, objectKey); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
