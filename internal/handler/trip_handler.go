package handler

import (
	"encoding/json"
	"net/http"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/internal/persistence"
	"tripsync/internal/store"
	"tripsync/internal/wire"
	"tripsync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type TripHandler struct {
	store    *store.Store
	local    *persistence.Local
	validate *validator.Validate
	log      zerolog.Logger
}

func NewTripHandler(st *store.Store, local *persistence.Local, log zerolog.Logger) *TripHandler {
	return &TripHandler{
		store:    st,
		local:    local,
		validate: validator.New(),
		log:      log,
	}
}

type dayView struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Order int               `json:"order"`
	Items []json.RawMessage `json:"items"`
}

func encodeItems(items []*domain.Item) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := wire.EncodeItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (h *TripHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc := h.store.Document()
	if doc == nil {
		response.NotFound(w, "trip is not initialized")
		return
	}
	data, err := wire.ToWire(doc)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, json.RawMessage(data))
}

func (h *TripHandler) Init(w http.ResponseWriter, r *http.Request) {
	if sess, _ := appctx.FromContext(r.Context()); !sess.Writable() {
		response.Forbidden(w, store.ErrPermissionDenied.Error())
		return
	}

	var seed domain.Seed
	if !h.decode(w, r, &seed) {
		return
	}

	doc, err := h.store.Initialize(r.Context(), seed)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	data, err := wire.ToWire(doc)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Created(w, json.RawMessage(data))
}

func (h *TripHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	day := h.store.Day(mux.Vars(r)["dayId"])
	if day == nil {
		response.NotFound(w, store.ErrDayNotFound.Error())
		return
	}
	items, err := encodeItems(day.VisibleItems())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, dayView{ID: day.ID, Title: day.Title, Order: day.Order, Items: items})
}

func (h *TripHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	dayID := mux.Vars(r)["dayId"]
	if h.store.Day(dayID) == nil {
		response.NotFound(w, store.ErrDayNotFound.Error())
		return
	}
	items, err := encodeItems(h.store.VisibleItems(dayID))
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, items)
}

func (h *TripHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.store.AddItem(r.Context(), mux.Vars(r)["dayId"], req)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	raw, err := wire.EncodeItem(item)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Created(w, raw)
}

func (h *TripHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || len(fields) == 0 {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	vars := mux.Vars(r)
	item, err := h.store.UpdateItem(r.Context(), vars["dayId"], vars["itemId"], fields)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	raw, err := wire.EncodeItem(item)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, raw)
}

func (h *TripHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteItem(r.Context(), vars["dayId"], vars["itemId"]); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, map[string]string{"message": "item deleted"})
}

func (h *TripHandler) MoveItem(w http.ResponseWriter, r *http.Request) {
	var req domain.MoveItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	if err := h.store.MoveItem(r.Context(), vars["dayId"], vars["itemId"], req.ToIndex); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	h.ListItems(w, r)
}

func (h *TripHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req domain.ReorderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.store.ReorderItems(r.Context(), mux.Vars(r)["dayId"], req.ItemIDs); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	h.ListItems(w, r)
}

func (h *TripHandler) AddPlan(w http.ResponseWriter, r *http.Request) {
	var req domain.AddPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	entry, err := h.store.AddPlanItem(r.Context(), vars["dayId"], vars["itemId"], req.Text)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	if entry == nil {
		response.Success(w, map[string]string{"message": "entry already present"})
		return
	}
	response.Created(w, entry)
}

func (h *TripHandler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeletePlanItem(r.Context(), vars["dayId"], vars["itemId"], vars["hash"]); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, map[string]string{"message": "plan entry deleted"})
}

func (h *TripHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCommentRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	comment, err := h.store.AddComment(r.Context(), vars["dayId"], vars["itemId"], req.Message)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	if comment == nil {
		response.Success(w, map[string]string{"message": "comment already present"})
		return
	}
	response.Created(w, comment)
}

func (h *TripHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteComment(r.Context(), vars["dayId"], vars["itemId"], vars["hash"]); err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, map[string]string{"message": "comment deleted"})
}

func (h *TripHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	var req domain.ToggleLikeRequest
	if !h.decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	target := store.LikeTarget{Kind: store.LikeKind(req.Kind), Ref: req.Ref}
	liked, err := h.store.ToggleLike(r.Context(), vars["dayId"], vars["itemId"], target)
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, map[string]bool{"liked": liked})
}

func (h *TripHandler) Spend(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.store.SpendSummary())
}

func (h *TripHandler) Backups(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.Backups(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	if records == nil {
		records = []domain.BackupRecord{}
	}
	response.Success(w, records)
}

func (h *TripHandler) Compact(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Compact(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, stats)
}

type storageInfo struct {
	SizeMB  float64 `json:"size_mb"`
	Backups int     `json:"backups"`
}

func (h *TripHandler) Storage(w http.ResponseWriter, r *http.Request) {
	size, err := h.local.SizeMB(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	records, err := h.local.Backups(r.Context())
	if err != nil {
		writeStoreError(w, h.log, err)
		return
	}
	response.Success(w, storageInfo{SizeMB: size, Backups: len(records)})
}
