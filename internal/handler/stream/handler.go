package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-recall/backend/internal/service/chat"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
	"github.com/zhouzirui/z-recall/backend/pkg/utils"
)

// Turns is the cached calling layer used by the streaming endpoints.
type Turns interface {
	CachedOrRun(ctx context.Context, sessionID, userID, query string, opts ...turn.RunOption) (turn.Reply, error)
}

// Handler serves turns over Server-Sent Events and WebSocket.
type Handler struct {
	turns    Turns
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader

	pongWait   time.Duration
	pingPeriod time.Duration
}

// New creates a new stream handler
func New(turns Turns, chatSvc *chatService.Service) *Handler {
	return &Handler{
		turns:      turns,
		chatSvc:    chatSvc,
		pongWait:   defaultPongWait,
		pingPeriod: defaultPingPeriod,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the SSE and WebSocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
	r.Get("/chat/ws/{sessionID}", h.handleWebSocket)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	State     string `json:"state,omitempty"`
	Content   string `json:"content,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleStream runs one turn and reports each orchestrator state as it is entered.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("userId")
	userMessage := r.URL.Query().Get("message")

	if h.turns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if err := h.checkOwner(r.Context(), sessionID, userID); err != nil {
		respondOwnerError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	observer := turn.WithObserver(func(_ context.Context, s turn.State) {
		utils.SendSSEEvent(w, flusher, "state", StreamResponse{SessionID: sessionID, State: string(s)})
	})

	reply, err := h.turns.CachedOrRun(ctx, sessionID, userID, userMessage, observer)
	if err != nil {
		log.Printf("[stream] turn failed session=%s: %v", sessionID, err)
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{SessionID: sessionID, Error: clientError(err)})
		return
	}

	utils.SendSSEEvent(w, flusher, "message", StreamResponse{
		SessionID: sessionID,
		Content:   reply.Response,
		Cached:    reply.Cached,
	})
	utils.SendSSEEvent(w, flusher, "end", StreamResponse{SessionID: sessionID, Finished: true})

	log.Printf("[stream] completed response for session=%s cached=%v", sessionID, reply.Cached)
}

// checkOwner rejects sessions owned by another user. Unknown sessions are
// created lazily when the first reply is recorded.
func (h *Handler) checkOwner(ctx context.Context, sessionID, userID string) error {
	if h.chatSvc == nil {
		return nil
	}
	session, err := h.chatSvc.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if session.UserID != userID {
			return chatService.ErrSessionForbidden
		}
		return nil
	case errors.Is(err, chatService.ErrSessionNotFound):
		return nil
	default:
		return err
	}
}

func respondOwnerError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatService.ErrSessionForbidden) {
		utils.RespondError(w, http.StatusForbidden, err.Error())
		return
	}
	log.Printf("[stream] session lookup failed: %v", err)
	utils.RespondError(w, http.StatusInternalServerError, "internal error")
}

func clientError(err error) string {
	if errors.Is(err, ai.ErrGateway) {
		return "language model unavailable"
	}
	return "turn failed"
}
