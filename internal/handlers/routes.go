package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Routes holds the handlers served by the API.
type Routes struct {
	Upload  *UploadHandler
	Tasks   *TaskHandler
	Folders *FolderHandler
	Metrics http.Handler
	// Ready reports whether backends are reachable; nil means always ready.
	Ready func(r *http.Request) error
}

// NewRouter registers every route on a gorilla/mux router, tracing each
// operation with otelhttp.
func NewRouter(rt Routes) *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint (no tracing needed)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if rt.Ready != nil {
			if err := rt.Ready(r); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if rt.Metrics != nil {
		router.Handle("/metrics", rt.Metrics).Methods(http.MethodGet)
	}

	traced := func(name string, h http.HandlerFunc) http.Handler {
		return otelhttp.NewHandler(h, name)
	}

	router.Handle("/tasks/upload", otelhttp.NewHandler(rt.Upload, "POST /tasks/upload")).Methods(http.MethodPost)
	router.Handle("/tasks", traced("GET /tasks", rt.Tasks.List)).Methods(http.MethodGet)
	router.Handle("/tasks/{task_id}", traced("GET /tasks/{task_id}", rt.Tasks.Get)).Methods(http.MethodGet)
	router.Handle("/tasks/{task_id}", traced("DELETE /tasks/{task_id}", rt.Tasks.Delete)).Methods(http.MethodDelete)
	router.Handle("/tasks/{task_id}/progress", traced("GET /tasks/{task_id}/progress", rt.Tasks.Progress)).Methods(http.MethodGet)
	router.Handle("/tasks/{task_id}/media", traced("GET /tasks/{task_id}/media", rt.Tasks.Media)).Methods(http.MethodGet)
	router.Handle("/tasks/{task_id}/status", traced("PATCH /tasks/{task_id}/status", rt.Tasks.UpdateStatus)).Methods(http.MethodPatch)

	if rt.Folders != nil {
		router.Handle("/folders", traced("GET /folders", rt.Folders.List)).Methods(http.MethodGet)
		router.Handle("/folders", traced("POST /folders", rt.Folders.Create)).Methods(http.MethodPost)
		router.Handle("/folders/{folder_id}", traced("PATCH /folders/{folder_id}", rt.Folders.Rename)).Methods(http.MethodPatch)
		router.Handle("/folders/{folder_id}", traced("DELETE /folders/{folder_id}", rt.Folders.Delete)).Methods(http.MethodDelete)
	}

	return router
}
