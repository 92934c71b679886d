package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/middleware"
	"tripsync/internal/syncer"
	"tripsync/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	sessions middleware.SessionSource
	upgrader ws.Upgrader
	log      zerolog.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, sessions middleware.SessionSource, readBuf, writeBuf int, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:  manager,
		sessions: sessions,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if token == "" {
		h.log.Warn().Msg("websocket: missing authorization token")
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.Session(token)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket: token validation failed")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket: failed to upgrade connection")
		return
	}

	client := websocket.NewClient(uuid.New().String(), sess, conn, h.manager)
	select {
	case h.manager.Register <- client:
	case <-h.manager.Done():
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers pings and runs sync requests sent over
// the socket.
type WebSocketMessageHandler struct {
	syncService *syncer.Service
	timeout     time.Duration
}

func NewWebSocketMessageHandler(syncService *syncer.Service, timeout time.Duration) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		syncService: syncService,
		timeout:     timeout,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSyncRequest:
		var payload websocket.SyncRequestPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		// Sync calls block on the network; keep the manager loop free.
		go h.handleSyncRequest(client, payload)
		return nil

	case websocket.TypePing:
		return reply(client, websocket.TypePong, nil)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleSyncRequest(client *websocket.Client, payload websocket.SyncRequestPayload) {
	ack := websocket.AckPayload{Action: payload.Action}
	if !client.Session.Writable() {
		ack.Message = "permission denied"
		reply(client, websocket.TypeAck, ack)
		return
	}

	ctx, cancel := context.WithTimeout(appctx.WithSession(context.Background(), client.Session), h.timeout)
	defer cancel()

	var res syncer.Result
	switch payload.Action {
	case "upload":
		res = h.syncService.Upload(ctx)
	case "download":
		res = h.syncService.Download(ctx, payload.Merge)
	default:
		ack.Message = "unknown sync action"
		reply(client, websocket.TypeAck, ack)
		return
	}

	ack.Success = res.Success
	ack.Message = res.Message
	reply(client, websocket.TypeAck, ack)
}

func reply(client *websocket.Client, msgType websocket.MessageType, payload interface{}) error {
	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return client.Manager.SendToClient(client.ID, msg)
}
