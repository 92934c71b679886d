package handler

import (
	"encoding/json"
	"net/http"

	"tripsync/internal/appctx"
	"tripsync/internal/store"
	"tripsync/internal/syncer"
	"tripsync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type SyncHandler struct {
	syncService *syncer.Service
	validate    *validator.Validate
}

func NewSyncHandler(syncService *syncer.Service) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		validate:    validator.New(),
	}
}

type downloadRequest struct {
	Merge bool `json:"merge"`
}

type patchRequest struct {
	Patch map[string]any `json:"patch" validate:"required"`
}

type autoSyncRequest struct {
	Enabled bool `json:"enabled"`
}

type syncStatus struct {
	Configured bool   `json:"configured"`
	Backend    string `json:"backend,omitempty"`
	AutoSync   bool   `json:"auto_sync"`
	Realtime   bool   `json:"realtime"`
}

// Sync operations replace or publish the shared document, so they are
// limited to editors.
func editorOnly(w http.ResponseWriter, r *http.Request) bool {
	if sess, _ := appctx.FromContext(r.Context()); !sess.Writable() {
		response.Forbidden(w, store.ErrPermissionDenied.Error())
		return false
	}
	return true
}

func outcome(w http.ResponseWriter, res syncer.Result) {
	response.Outcome(w, res.Success, res.Message, nil)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := syncStatus{
		Configured: h.syncService.IsConfigured(),
		AutoSync:   h.syncService.AutoSync(),
		Realtime:   h.syncService.Subscribed(),
	}
	if settings := h.syncService.Settings(); settings != nil {
		status.Backend = settings.Backend
	}
	response.Success(w, status)
}

func (h *SyncHandler) Configure(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}

	var settings syncer.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	outcome(w, h.syncService.Configure(r.Context(), settings))
}

func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}
	outcome(w, h.syncService.Upload(r.Context()))
}

func (h *SyncHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}

	req := downloadRequest{Merge: true}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Invalid request payload")
			return
		}
	}

	outcome(w, h.syncService.Download(r.Context(), req.Merge))
}

func (h *SyncHandler) UploadItem(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}
	vars := mux.Vars(r)
	outcome(w, h.syncService.UploadItem(r.Context(), vars["dayId"], vars["itemId"]))
}

func (h *SyncHandler) Patch(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	outcome(w, h.syncService.Update(r.Context(), req.Patch))
}

func (h *SyncHandler) AutoSync(w http.ResponseWriter, r *http.Request) {
	if !editorOnly(w, r) {
		return
	}

	var req autoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	outcome(w, h.syncService.SetAutoSync(r.Context(), req.Enabled))
}
