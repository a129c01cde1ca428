package api

import (
	"net/http"
	"time"

	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/identity"
	"github.com/yerroong/lg-chatbot/internal/log"
	"github.com/yerroong/lg-chatbot/internal/wire"
)

type conversationHandler struct {
	store  ConversationReader
	cfg    Config
	logger log.Logger
}

type metadataResponse struct {
	IPAddress           string    `json:"ipAddress"`
	UserAgent           string    `json:"userAgent"`
	SessionType         string    `json:"sessionType"`
	TotalInteractions   int       `json:"totalInteractions"`
	LastAccessIP        string    `json:"lastAccessIP"`
	LastAccessUserAgent string    `json:"lastAccessUserAgent"`
	LastAccessTime      time.Time `json:"lastAccessTime"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// handleBySession returns the transcript for one session id. An unknown
// session yields an empty message list, mirroring the transport's history
// behaviour.
func (h *conversationHandler) handleBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	conv, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("conversation lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "대화를 조회하는 중 오류가 발생했습니다.")
		return
	}

	messages := []wire.Message{}
	if conv != nil {
		messages = toWireMessages(conv.Messages)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// handleByAddress derives the session id from the given address and the
// caller's user agent, then returns the full conversation with metadata.
func (h *conversationHandler) handleByAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("ip")
	userAgent := r.Header.Get("User-Agent")
	sessionID := identity.Identify(address, userAgent, h.cfg.Mode)

	conv, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("conversation lookup failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "대화를 조회하는 중 오류가 발생했습니다.")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "not_found", "해당 IP의 대화를 찾을 수 없습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  toWireMessages(conv.Messages),
		"metadata": metadataResponse{
			IPAddress:           conv.Metadata.Address,
			UserAgent:           conv.Metadata.UserAgent,
			SessionType:         conv.Metadata.SessionType,
			TotalInteractions:   conv.Metadata.TotalInteractions,
			LastAccessIP:        conv.Metadata.LastAccessAddress,
			LastAccessUserAgent: conv.Metadata.LastAccessUserAgent,
			LastAccessTime:      conv.Metadata.LastAccessTime,
			CreatedAt:           conv.CreatedAt,
			UpdatedAt:           conv.UpdatedAt,
		},
	})
}

func toWireMessages(msgs []conversation.Message) []wire.Message {
	out := make([]wire.Message, len(msgs))
	for i, m := range msgs {
		out[i] = wire.Message{
			ID:        m.ID.String(),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}
	return out
}
