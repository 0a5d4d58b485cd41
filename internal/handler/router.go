package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/a2639443196/my-vue-web/backend/internal/broadcast"
	"github.com/a2639443196/my-vue-web/backend/internal/handler/chat"
	middlewarePkg "github.com/a2639443196/my-vue-web/backend/internal/middleware"
	"github.com/a2639443196/my-vue-web/backend/internal/service/room"
	"github.com/a2639443196/my-vue-web/backend/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Rooms          *room.Service
	Relay          *broadcast.Relay
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	chatHandler := chat.New(deps.Rooms, logger)
	started := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status": "ok",
				"uptime": time.Since(started).Round(time.Second).String(),
			})
		})

		api.Route("/chat", chatHandler.RegisterRoutes)
	})

	chatHandler.RegisterSocketRoutes(r)
	// 跨标签页广播中继
	if deps.Relay != nil {
		deps.Relay.RegisterRoutes(r)
	}

	return r
}
