package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/backup"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/platform"
	"github.com/dataforge/platform/internal/storage"
)

// AdminHandlers implement the session-authenticated admin API: project
// lifecycle, key rotation/revocation, the SQL executor, table
// introspection, backups, and runtime settings.
type AdminHandlers struct {
	platform *platform.Context
}

// --- projects ---

func (h *AdminHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.platform.Store.ListProjects(r.Context(), h.platform.Store.Q())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *AdminHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apperr.BadRequest("name is required"))
		return
	}

	result, err := h.platform.Provisioner.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"project":        result.Project,
		"publishableKey": result.PublishableKey,
		"secretKey":      result.SecretKey,
	})
}

func (h *AdminHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectID"]
	project, err := h.platform.Store.GetProject(r.Context(), h.platform.Store.Q(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (h *AdminHandlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectID"]
	if err := h.platform.Provisioner.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- api keys ---

func (h *AdminHandlers) RotateKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID := vars["projectID"]
	keyType := models.ApiKeyType(vars["keyType"])
	if keyType != models.ApiKeyPublishable && keyType != models.ApiKeySecret {
		writeError(w, apperr.BadRequest("keyType must be publishable or secret"))
		return
	}

	plaintext, err := h.platform.ApiKeys.Rotate(r.Context(), projectID, keyType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": plaintext})
}

func (h *AdminHandlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["keyID"]
	revoked, err := h.platform.ApiKeys.Revoke(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

// --- SQL executor and table introspection ---

type executeSQLRequest struct {
	SQL string `json:"sql"`
}

func (h *AdminHandlers) ExecuteSQL(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]

	var req executeSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.platform.AdminSQL.Execute(r.Context(), projectID, req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	h.platform.Schema.Invalidate(projectID)
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandlers) ListProjectTables(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]

	pool, err := h.platform.Router.Get(r.Context(), projectID, models.PrincipalApp)
	if err != nil {
		writeError(w, err)
		return
	}
	tables, err := h.platform.Schema.Tables(r.Context(), pool.Raw(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// --- backups ---

type createBackupRequest struct {
	ProjectID     *string             `json:"projectId"`
	BackupType    models.BackupType   `json:"backupType"`
	TableName     *string             `json:"tableName"`
	Format        models.BackupFormat `json:"format"`
	RetentionDays *int                `json:"retentionDays"`
}

func (h *AdminHandlers) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var createdBy *string
	if user, ok := userFrom(r); ok {
		createdBy = &user.ID
	}

	b, err := h.platform.Backups.Create(r.Context(), backup.CreateInput{
		ProjectID:     req.ProjectID,
		Type:          req.BackupType,
		TableName:     req.TableName,
		Format:        req.Format,
		RetentionDays: req.RetentionDays,
		CreatedBy:     createdBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (h *AdminHandlers) ListBackups(w http.ResponseWriter, r *http.Request) {
	var projectID *string
	if pid := r.URL.Query().Get("projectId"); pid != "" {
		projectID = &pid
	}
	backups, err := h.platform.Store.ListBackups(r.Context(), h.platform.Store.Q(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (h *AdminHandlers) GetBackup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["backupID"]
	b, err := h.platform.Store.GetBackup(r.Context(), h.platform.Store.Q(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *AdminHandlers) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["backupID"]
	b, err := h.platform.Store.GetBackup(r.Context(), h.platform.Store.Q(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.platform.Storage.DeleteObjectFromBucket(r.Context(), storage.BackupBucket, b.ObjectKey); err != nil {
		h.platform.Logger.Warnf("delete backup %s: remove object: %v", id, err)
	}
	if err := h.platform.Store.DeleteBackup(r.Context(), h.platform.Store.Q(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["backupID"]
	warnings, err := h.platform.Backups.RestoreProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (h *AdminHandlers) SweepRetention(w http.ResponseWriter, r *http.Request) {
	var projectID *string
	if pid := r.URL.Query().Get("projectId"); pid != "" {
		projectID = &pid
	}
	if err := h.platform.Backups.SweepRetention(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- settings ---

func (h *AdminHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.platform.Settings.Get())
}

type updateSettingsRequest struct {
	RateLimitMax          *int    `json:"rateLimitMax"`
	RateLimitWindowMs     *int    `json:"rateLimitWindowMs"`
	SQLMaxRows            *int    `json:"sqlMaxRows"`
	SQLStatementTimeoutMs *int    `json:"sqlStatementTimeoutMs"`
	PublicStorageURL      *string `json:"publicStorageUrl"`
}

func (h *AdminHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	patch := h.platform.Settings.Get()
	var fields []string
	if req.RateLimitMax != nil {
		patch.RateLimitMax = *req.RateLimitMax
		fields = append(fields, "rateLimitMax")
	}
	if req.RateLimitWindowMs != nil {
		patch.RateLimitWindowMs = *req.RateLimitWindowMs
		fields = append(fields, "rateLimitWindowMs")
	}
	if req.SQLMaxRows != nil {
		patch.SQLMaxRows = *req.SQLMaxRows
		fields = append(fields, "sqlMaxRows")
	}
	if req.SQLStatementTimeoutMs != nil {
		patch.SQLStatementTimeoutMs = *req.SQLStatementTimeoutMs
		fields = append(fields, "sqlStatementTimeoutMs")
	}
	if req.PublicStorageURL != nil {
		patch.PublicStorageURL = *req.PublicStorageURL
		fields = append(fields, "publicStorageUrl")
	}

	result, err := h.platform.Settings.Update(r.Context(), patch, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
