package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/washboard/backend/internal/ai"
	"github.com/washboard/backend/internal/cache"
	"github.com/washboard/backend/internal/db"
	"github.com/washboard/backend/internal/rounded"
	"github.com/washboard/backend/internal/service"
)

type Handler struct {
	Store         *db.Store
	Pipeline      *service.Pipeline
	Assistant     ai.Assistant
	Cache         *cache.Cache
	Validator     *validator.Validate
	Logger        zerolog.Logger
	WebhookSecret string
}

const (
	duplicateMarkerTTL = 10 * time.Minute
	analyticsCacheKey  = "analytics:summary"
	analyticsCacheTTL  = 30 * time.Second
)

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Rounded call webhook
// @Description Receives call lifecycle and transcript events from the call provider
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Rounded-Signature header string true "HMAC-SHA256 of the request body"
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Router /webhooks/rounded [post]
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable body", nil)
		return
	}

	if !rounded.VerifySignature(h.WebhookSecret, c.GetHeader(rounded.SignatureHeader), body) {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook signature", nil)
		return
	}

	var ev rounded.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed event payload", nil)
		return
	}
	if err := h.Validator.Struct(ev); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Event validation failed", err.Error())
		return
	}

	if dup, err := h.Cache.MarkEventSeen(c.Request.Context(), ev.Type+":"+ev.CallID, duplicateMarkerTTL); err != nil {
		h.Logger.Warn().Err(err).Msg("duplicate marker unavailable")
	} else if dup {
		h.Logger.Info().Str("call_id", ev.CallID).Str("type", ev.Type).Msg("duplicate webhook delivery")
	}

	out, err := h.Pipeline.HandleEvent(c.Request.Context(), ev, body)
	if err != nil {
		// Internal detail stays in the log; the provider only needs the status.
		h.Logger.Error().Err(err).Str("call_id", ev.CallID).Str("type", ev.Type).Msg("webhook processing failed")
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Failed to process call event", nil)
		return
	}

	h.Logger.Info().
		Str("call_id", ev.CallID).
		Str("type", ev.Type).
		Bool("analyzed", out.Analyzed).
		Bool("escalated", out.Escalated).
		Msg("call event processed")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) CallsList(c *gin.Context) {
	laundryID := c.Query("laundry_id")
	category := c.Query("category")
	priority := c.Query("priority")
	status := c.Query("status")
	q := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListCalls(c.Request.Context(), laundryID, category, priority, status, q, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list calls", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) CallDetails(c *gin.Context) {
	id := c.Param("id")
	result, err := h.Store.GetCallDetails(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Call not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get call", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) LaundriesList(c *gin.Context) {
	items, err := h.Store.ListLaundries(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list laundries", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) FollowUpsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.Store.ListFollowUpActions(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list follow-up actions", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Analytics summary
// @Tags analytics
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/analytics/summary [get]
func (h *Handler) AnalyticsSummary(c *gin.Context) {
	var cached map[string]any
	if ok, err := h.Cache.GetJSON(c.Request.Context(), analyticsCacheKey, &cached); err != nil {
		h.Logger.Warn().Err(err).Msg("analytics cache read failed")
	} else if ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	summary, err := h.Store.AnalyticsSummary(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to compute analytics", err.Error())
		return
	}
	if err := h.Cache.SetJSON(c.Request.Context(), analyticsCacheKey, summary, analyticsCacheTTL); err != nil {
		h.Logger.Warn().Err(err).Msg("analytics cache write failed")
	}
	c.JSON(http.StatusOK, summary)
}

type AssistantChatRequest struct {
	Message string           `json:"message" validate:"required"`
	History []ai.ChatMessage `json:"history"`
}

func (h *Handler) AssistantChat(c *gin.Context) {
	if h.Assistant == nil {
		writeError(c, http.StatusServiceUnavailable, "ASSISTANT_DISABLED", "No assistant endpoint configured", nil)
		return
	}
	var req AssistantChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	answer, err := h.Assistant.Ask(c.Request.Context(), req.Message, req.History)
	if err != nil {
		var rl ai.RateLimitError
		if errors.As(err, &rl) {
			if rl.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
			}
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Assistant is rate limited", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("assistant request failed")
		writeError(c, http.StatusBadGateway, "ASSISTANT_ERROR", "Assistant unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
