package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-recall/backend/internal/handler/chat"
	"github.com/zhouzirui/z-recall/backend/internal/handler/document"
	"github.com/zhouzirui/z-recall/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/z-recall/backend/internal/middleware"
	chatService "github.com/zhouzirui/z-recall/backend/internal/service/chat"
	turnService "github.com/zhouzirui/z-recall/backend/internal/service/turn"
	"github.com/zhouzirui/z-recall/backend/pkg/utils"
)

// Services are the backends exposed over HTTP. Turns and Ingester may be
// nil; the routes that need them answer 503.
type Services struct {
	Chat      *chatService.Service
	Turns     *turnService.Service
	Ingester  document.Ingester
	UploadDir string
	// Metrics serves the Prometheus exposition; /metrics is not mounted when nil.
	Metrics http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(s Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	// Typed nils must not reach the handlers as non-nil interfaces.
	var turns chat.Turns
	if s.Turns != nil {
		turns = s.Turns
	}

	chatHandler := chat.New(s.Chat, turns)
	streamHandler := stream.New(turns, s.Chat)
	documentHandler := document.New(s.Ingester, s.UploadDir)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		documentHandler.RegisterRoutes(api)
	})

	return r
}
