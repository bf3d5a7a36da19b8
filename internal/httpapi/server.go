// Package httpapi implements the platform's HTTP surface: the
// public CRUD and storage APIs authenticated by project API key, and the
// session-authenticated admin API, bound together on a single
// *mux.Router.
//
// Grounded in redbco-redb-open/services/clientapi/internal/engine
// (server.go's NewServer/setupRoutes/setupMiddleware and middleware.go's
// context-key attachment pattern), generalized from that service's
// gRPC-backed tenant-URL routing to direct in-process calls into the
// platform's own services, since there is no sibling gRPC service to
// proxy to here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dataforge/platform/internal/platform"
	"github.com/dataforge/platform/pkg/health"
)

// Server owns the mux.Router and every handler group.
type Server struct {
	platform *platform.Context
	router   *mux.Router

	auth    *AuthHandlers
	crud    *CRUDHandlers
	storage *StorageHandlers
	admin   *AdminHandlers
}

// NewServer constructs the HTTP surface over an already-wired platform.Context.
func NewServer(p *platform.Context) *Server {
	s := &Server{
		platform: p,
		router:   mux.NewRouter(),
		auth:     &AuthHandlers{platform: p},
		crud:     &CRUDHandlers{platform: p},
		storage:  &StorageHandlers{platform: p},
		admin:    &AdminHandlers{platform: p},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Router exposes the underlying http.Handler for cmd/ to bind to a listener.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.platform.Logger.WithFields(map[string]string{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Info("request handled")
		})
	})
}

func (s *Server) setupRoutes() {
	// Catch-all OPTIONS route: mux runs middleware only on a route match,
	// so preflights need a route for the CORS middleware to answer them.
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	db := s.router.PathPrefix("/v1/db").Subrouter()
	db.Use(s.auth.RequireAPIKey)
	db.HandleFunc("/tables", s.crud.ListTables).Methods(http.MethodGet)
	db.HandleFunc("/{table}", s.crud.Select).Methods(http.MethodGet)
	db.HandleFunc("/{table}", s.crud.Insert).Methods(http.MethodPost)
	db.HandleFunc("/{table}", s.crud.Update).Methods(http.MethodPatch)
	db.HandleFunc("/{table}", s.crud.Delete).Methods(http.MethodDelete)

	storage := s.router.PathPrefix("/v1/storage").Subrouter()
	storage.Use(s.auth.RequireAPIKey)
	storage.HandleFunc("/signed-upload", s.storage.SignedUpload).Methods(http.MethodPost)
	storage.HandleFunc("/signed-download", s.storage.SignedDownload).Methods(http.MethodGet)
	storage.HandleFunc("/list", s.storage.List).Methods(http.MethodGet)
	storage.HandleFunc("/object", s.storage.DeleteObject).Methods(http.MethodDelete)

	adminAuth := s.router.PathPrefix("/admin/v1/auth").Subrouter()
	adminAuth.HandleFunc("/login", s.auth.Login).Methods(http.MethodPost)
	adminAuth.HandleFunc("/logout", s.auth.Logout).Methods(http.MethodPost)
	adminAuth.HandleFunc("/register", s.auth.Register).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin/v1").Subrouter()
	admin.Use(s.auth.RequireSession)
	admin.HandleFunc("/invites", s.auth.CreateInvite).Methods(http.MethodPost)

	admin.HandleFunc("/projects", s.admin.ListProjects).Methods(http.MethodGet)
	admin.HandleFunc("/projects", s.admin.CreateProject).Methods(http.MethodPost)
	admin.HandleFunc("/projects/{projectID}", s.admin.GetProject).Methods(http.MethodGet)
	admin.HandleFunc("/projects/{projectID}", s.admin.DeleteProject).Methods(http.MethodDelete)

	admin.HandleFunc("/projects/{projectID}/keys/{keyType}/rotate", s.admin.RotateKey).Methods(http.MethodPost)
	admin.HandleFunc("/keys/{keyID}/revoke", s.admin.RevokeKey).Methods(http.MethodPost)

	admin.HandleFunc("/projects/{projectID}/sql", s.admin.ExecuteSQL).Methods(http.MethodPost)
	admin.HandleFunc("/projects/{projectID}/tables", s.admin.ListProjectTables).Methods(http.MethodGet)

	admin.HandleFunc("/backups", s.admin.CreateBackup).Methods(http.MethodPost)
	admin.HandleFunc("/backups", s.admin.ListBackups).Methods(http.MethodGet)
	admin.HandleFunc("/backups/{backupID}", s.admin.GetBackup).Methods(http.MethodGet)
	admin.HandleFunc("/backups/{backupID}", s.admin.DeleteBackup).Methods(http.MethodDelete)
	admin.HandleFunc("/backups/{backupID}/restore", s.admin.RestoreBackup).Methods(http.MethodPost)
	admin.HandleFunc("/backups/retention/sweep", s.admin.SweepRetention).Methods(http.MethodPost)

	admin.HandleFunc("/settings", s.admin.GetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings", s.admin.UpdateSettings).Methods(http.MethodPatch)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := s.platform.Health
	h.RunCheck("database", func() error {
		return s.platform.Store.Q().QueryRow(r.Context(), "SELECT 1").Scan(new(int))
	})
	h.RunCheck("object_store", func() error {
		return s.platform.Storage.Ping(r.Context())
	})

	status := h.GetOverallStatus()
	httpStatus := http.StatusOK
	if status == health.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status":      status,
		"checks":      h.GetAllChecks(),
		"lastHealthy": h.GetLastHealthyTime(),
	})
}
