package chat

import "time"

// DefaultSessionName 会话懒创建时使用的名称。
const DefaultSessionName = "New Chat"

// Session captures a chat session owned by a single user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"sessionName"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// CachedMessage is a stored (query, response) pair of a session.
type CachedMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	UserQuery string    `json:"userQuery"`
	LLMResp   string    `json:"llmResp,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Answered reports whether the pair carries a response that may be served from cache.
func (m CachedMessage) Answered() bool {
	return m.LLMResp != ""
}
