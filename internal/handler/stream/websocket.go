package stream

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 54 * time.Second
	writeWait         = 10 * time.Second
	// pendingTurns bounds the messages queued behind a running turn.
	pendingTurns = 8
)

type inboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type replyData struct {
	Response string `json:"response"`
	Cached   bool   `json:"cached"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg outgoingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg.Timestamp = time.Now().Unix()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msg.Type, err)
	}
}

func (c *wsConn) sendError(sessionID, message string) {
	c.send(outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
	})
}

// handleWebSocket 处理WebSocket连接，每条入站消息运行一轮带缓存的对话
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := r.URL.Query().Get("userId")
	if sessionID == "" || userID == "" {
		http.Error(w, "sessionID and userId are required", http.StatusBadRequest)
		return
	}
	if h.turns == nil {
		http.Error(w, "chat unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.checkOwner(r.Context(), sessionID, userID); err != nil {
		respondOwnerError(w, err)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = raw.SetReadDeadline(time.Now().Add(h.pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go pingLoop(ctx, raw, h.pingPeriod)

	// Turns run one at a time off the read loop so pongs keep arriving.
	pending := make(chan string, pendingTurns)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for content := range pending {
			h.handleTurn(ctx, conn, sessionID, userID, content)
		}
	}()
	defer func() {
		close(pending)
		cancel()
		wg.Wait()
	}()

	conn.send(outgoingMessage{Type: "connected", SessionID: sessionID})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(h.pongWait))

		switch msg.Type {
		case "message":
			select {
			case pending <- msg.Content:
			default:
				conn.sendError(sessionID, "too many pending messages")
			}
		case "ping":
			conn.send(outgoingMessage{Type: "pong", SessionID: sessionID})
		default:
			conn.sendError(sessionID, "unsupported message type")
		}
	}
}

func (h *Handler) handleTurn(ctx context.Context, conn *wsConn, sessionID, userID, content string) {
	if strings.TrimSpace(content) == "" {
		conn.sendError(sessionID, "content is required")
		return
	}

	reply, err := h.turns.CachedOrRun(ctx, sessionID, userID, content)
	if err != nil {
		log.Printf("[websocket] turn failed session=%s: %v", sessionID, err)
		conn.sendError(sessionID, clientError(err))
		return
	}

	conn.send(outgoingMessage{
		Type:      "reply",
		SessionID: sessionID,
		Data:      replyData{Response: reply.Response, Cached: reply.Cached},
	})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
