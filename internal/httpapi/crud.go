package httpapi

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/platform"
)

// CRUDHandlers exposes the public dynamic CRUD surface over a project's
// tenant database, authenticated by the request's
// resolved API key.
type CRUDHandlers struct {
	platform *platform.Context
}

func (h *CRUDHandlers) ListTables(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}

	pool, err := h.platform.Router.Get(r.Context(), pc.ProjectID, models.PrincipalApp)
	if err != nil {
		writeError(w, err)
		return
	}
	tables, err := h.platform.Schema.Tables(r.Context(), pool.Raw(), pc.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"tables": names})
}

func (h *CRUDHandlers) Select(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}
	table := mux.Vars(r)["table"]

	result, err := h.platform.CRUD.Select(r.Context(), pc.ProjectID, table, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": result.Rows, "rowCount": result.RowCount})
}

// insertRequest is the documented POST /v1/db/:table body:
// {rows: [...], returning?: bool}.
type insertRequest struct {
	Rows      []map[string]any `json:"rows"`
	Returning bool             `json:"returning"`
}

func (h *CRUDHandlers) Insert(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}
	if pc.KeyType != models.ApiKeySecret {
		writeError(w, apperr.Forbidden("inserting rows requires a secret key"))
		return
	}
	table := mux.Vars(r)["table"]

	var req insertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, apperr.BadRequest("rows must be a non-empty array of objects"))
		return
	}

	inserted, rowErrs, err := h.platform.CRUD.InsertRows(r.Context(), pc.ProjectID, table, req.Rows)
	if err != nil {
		writeError(w, err)
		return
	}

	errStrings := make([]*string, len(rowErrs))
	for i, e := range rowErrs {
		if e != nil {
			s := e.Error()
			errStrings[i] = &s
		}
	}
	body := map[string]any{"rowCount": len(inserted), "errors": errStrings}
	if req.Returning {
		body["rows"] = inserted
	}
	writeJSON(w, http.StatusCreated, body)
}

// updateRequest is the documented PATCH /v1/db/:table?<filters> body:
// {values, returning?}.
type updateRequest struct {
	Values    map[string]any `json:"values"`
	Returning bool           `json:"returning"`
}

func (h *CRUDHandlers) Update(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}
	if pc.KeyType != models.ApiKeySecret {
		writeError(w, apperr.Forbidden("updating rows requires a secret key"))
		return
	}
	table := mux.Vars(r)["table"]

	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.platform.CRUD.Update(r.Context(), pc.ProjectID, table, r.URL.Query(), req.Values)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]any{"rowCount": result.RowCount}
	if req.Returning {
		body["rows"] = result.Rows
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *CRUDHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	pc, ok := projectContextFrom(r)
	if !ok {
		writeError(w, apperr.Unauthorized("missing project context"))
		return
	}
	if pc.KeyType != models.ApiKeySecret {
		writeError(w, apperr.Forbidden("deleting rows requires a secret key"))
		return
	}
	table := mux.Vars(r)["table"]

	result, err := h.platform.CRUD.Delete(r.Context(), pc.ProjectID, table, r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": result.RowCount})
}
