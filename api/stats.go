package api

import (
	"net/http"
	"time"

	"github.com/yerroong/lg-chatbot/internal/log"
)

// activeWindow is the recency window for "active" conversation counts.
const activeWindow = 24 * time.Hour

type statsHandler struct {
	store  ConversationReader
	logger log.Logger
}

// handleStats reports overall and recent conversation counts plus the
// activity aggregate.
func (h *statsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.store.TotalCount(ctx)
	if err != nil {
		h.logger.Error("counting conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "통계를 조회하는 중 오류가 발생했습니다.")
		return
	}

	active, err := h.store.ActiveCount(ctx, activeWindow)
	if err != nil {
		h.logger.Error("counting active conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "통계를 조회하는 중 오류가 발생했습니다.")
		return
	}

	stats, err := h.store.ActiveStats(ctx, activeWindow)
	if err != nil {
		h.logger.Error("aggregating stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "통계를 조회하는 중 오류가 발생했습니다.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalConversations": total,
		"activeToday":        active,
		"activeStats":        stats,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUsage reports the usage pattern for one client address.
func (h *statsHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("ip")

	usage, err := h.store.AddressUsage(r.Context(), address)
	if err != nil {
		h.logger.Error("address usage lookup failed", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "사용 패턴을 조회하는 중 오류가 발생했습니다.")
		return
	}
	if usage == nil {
		writeError(w, http.StatusNotFound, "not_found", "해당 IP의 대화를 찾을 수 없습니다.")
		return
	}

	writeJSON(w, http.StatusOK, usage)
}
