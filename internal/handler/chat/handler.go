package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/z-recall/backend/internal/model/chat"
	"github.com/zhouzirui/z-recall/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-recall/backend/internal/service/chat"
	"github.com/zhouzirui/z-recall/backend/internal/service/turn"
	"github.com/zhouzirui/z-recall/backend/pkg/utils"
)

// MaxContentBytes 单条消息内容的最大字节数
const MaxContentBytes = 32 * 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxContentBytes
	})
	return v
}

// Turns 带缓存的对话调用层
type Turns interface {
	CachedOrRun(ctx context.Context, sessionID, userID, query string, opts ...turn.RunOption) (turn.Reply, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	turns   Turns
}

// New 创建聊天处理器，turns 为空时 /chat 返回 503
func New(chatSvc *chatService.Service, turns Turns) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		turns:   turns,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
	r.Post("/messages", h.handleSaveMessage)
	r.Post("/chat", h.handleChat)
}

type createSessionRequest struct {
	UserID      string `json:"userId" validate:"required"`
	SessionName string `json:"sessionName" validate:"max=200"`
}

type saveMessageRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	UserQuery string `json:"userQuery" validate:"maxbytes"`
	LLMResp   string `json:"llmResp" validate:"maxbytes"`
}

type chatRequest struct {
	UserID    string `json:"userId" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
	Content   string `json:"content" validate:"maxbytes"`
}

// ChatResponse /chat 接口的响应体
type ChatResponse struct {
	Response  string `json:"response"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Cached    bool   `json:"cached"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.UserID, payload.SessionName)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 查询会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleListMessages 返回会话中缓存的问答对
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.CachedMessage{}
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleSaveMessage 保存问答对，会话不存在时自动创建
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload saveMessageRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	if err := h.chatSvc.Record(r.Context(), payload.SessionID, payload.UserID, payload.UserQuery, payload.LLMResp); err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// handleChat 运行一轮对话，命中缓存时直接返回
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}

	var payload chatRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	if err := h.checkOwner(r.Context(), payload.SessionID, payload.UserID); err != nil {
		respondServiceError(w, err)
		return
	}

	reply, err := h.turns.CachedOrRun(r.Context(), payload.SessionID, payload.UserID, payload.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ChatResponse{
		Response:  reply.Response,
		UserID:    payload.UserID,
		SessionID: payload.SessionID,
		Cached:    reply.Cached,
	})
}

// checkOwner 拒绝访问其他用户的会话；会话尚不存在时放行
func (h *Handler) checkOwner(ctx context.Context, sessionID, userID string) error {
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

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		utils.RespondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fe.Field() + " is required"
		}
		return fe.Field() + " is invalid"
	}
	return "invalid request"
}

// respondServiceError 将服务层错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	var gatewayErr *ai.GatewayError
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSessionForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatService.ErrUserRequired), errors.Is(err, chatService.ErrSessionRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gatewayErr):
		log.Printf("[http] model call failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "language model unavailable")
	default:
		log.Printf("[http] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
