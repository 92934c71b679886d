package middleware

import (
	"net/http"

	"tripsync/internal/config"

	"github.com/rs/cors"
)

func CORSMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   config.Split(cfg.AllowedOrigins),
		AllowedMethods:   config.Split(cfg.AllowedMethods),
		AllowedHeaders:   config.Split(cfg.AllowedHeaders),
		AllowCredentials: true,
		MaxAge:           3600,
	})
	return c.Handler
}
