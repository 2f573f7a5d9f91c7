package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/middleware"
	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
)

// StreamHandler handles the SSE chat endpoint.
type StreamHandler struct {
	completions *service.CompletionService
	logger      *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(completions *service.CompletionService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		completions: completions,
		logger:      log,
	}
}

// Chat handles POST /api/v1/chat
//
// Resolution failures (bad input, unknown model, foreign conversation) are
// plain JSON errors. Once the stream has started, failures arrive as an
// "error" event.
func (h *StreamHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := middleware.ValidateModelID(req.ModelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) > 0 {
		if err := middleware.ValidateMessageContent(req.Messages[len(req.Messages)-1].Content); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	completion, err := h.completions.Resolve(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "start chat")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.ForRequest(middleware.GetCorrelationID(ctx), userID).With(
		zap.String("conversation_id", completion.ConversationID),
		zap.String("model_id", completion.ModelID),
	)

	if err := sendSSEEvent(w, flusher, "conversation", &model.ConversationStartedEvent{
		ConversationID: completion.ConversationID,
		ModelID:        completion.ModelID,
	}); err != nil {
		log.Info("chat stream closed before start", zap.Error(err))
		return
	}

	resp, err := h.completions.Complete(ctx, completion, func(token string, index int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sendSSEEvent(w, flusher, "token", &model.TokenEvent{
			Token: token,
			Index: index,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("chat stream cancelled by client")
			return
		}
		log.Warn("chat stream failed", zap.Error(err))
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    "stream_error",
			Message: err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "done", &model.DoneEvent{
		Success:    true,
		StopReason: resp.StopReason,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
