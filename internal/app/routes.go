package app

import (
	"net/http"

	"tripsync/internal/handler"
	"tripsync/internal/middleware"

	"github.com/gorilla/mux"
)

func (a *App) routes() http.Handler {
	authHandler := handler.NewAuthHandler(a.Auth, a.log)
	tripHandler := handler.NewTripHandler(a.Store, a.Local, a.log)
	syncHandler := handler.NewSyncHandler(a.Sync)
	wsHandler := handler.NewWebSocketHandler(a.Hub, a.Auth,
		a.cfg.WebSocket.ReadBufferSize, a.cfg.WebSocket.WriteBufferSize, a.log)
	a.Hub.SetMessageHandler(handler.NewWebSocketMessageHandler(a.Sync, a.cfg.Sync.UploadTimeout))

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware(a.log))
	r.Use(middleware.CORSMiddleware(a.cfg.CORS))
	if a.cfg.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(a.cfg.RateLimit.RequestsPerMinute).Limit)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(a.Auth))

	protected.HandleFunc("/trip", tripHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/trip/init", tripHandler.Init).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}", tripHandler.GetDay).Methods("GET", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items", tripHandler.ListItems).Methods("GET", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items", tripHandler.AddItem).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/reorder", tripHandler.Reorder).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}", tripHandler.UpdateItem).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}", tripHandler.DeleteItem).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/move", tripHandler.MoveItem).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/plan", tripHandler.AddPlan).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/plan/{hash}", tripHandler.DeletePlan).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/comments", tripHandler.AddComment).Methods("POST", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/comments/{hash}", tripHandler.DeleteComment).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/days/{dayId}/items/{itemId}/likes", tripHandler.ToggleLike).Methods("POST", "OPTIONS")
	protected.HandleFunc("/spend", tripHandler.Spend).Methods("GET", "OPTIONS")
	protected.HandleFunc("/backups", tripHandler.Backups).Methods("GET", "OPTIONS")
	protected.HandleFunc("/storage", tripHandler.Storage).Methods("GET", "OPTIONS")
	protected.HandleFunc("/storage/compact", tripHandler.Compact).Methods("POST", "OPTIONS")

	protected.HandleFunc("/sync", syncHandler.Status).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/configure", syncHandler.Configure).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/upload", syncHandler.Upload).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/download", syncHandler.Download).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/items/{dayId}/{itemId}", syncHandler.UploadItem).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/patch", syncHandler.Patch).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/auto", syncHandler.AutoSync).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", handler.Health).Methods("GET")

	return r
}
