package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vanshansh-prajav/Hack36/internal/handlers"
)

func SetupRoutes(r chi.Router) {
	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Graph relay (read, merge, insert, list)
	r.Get("/graph/node", handlers.GetNode)
	r.Put("/graph/node", handlers.PutNode)
	r.Post("/graph/set", handlers.SetNode)
	r.Get("/graph/map", handlers.GetMap)

	// WebSocket live feed for one collection
	r.Get("/ws/graph", handlers.GraphWebSocket)

	// Image attachments hosted on Cloudinary
	r.Post("/api/upload", handlers.UploadImage)
}
