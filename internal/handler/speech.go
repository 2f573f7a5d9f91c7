package handler

import (
	"net/http"

	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/service"
	"github.com/anand-san/murmur/pkg/logger"
)

const maxAudioBytes = 25 << 20

// SpeechHandler proxies recorded audio to the speech-to-text provider.
type SpeechHandler struct {
	service *service.SpeechService
	logger  *logger.Logger
}

// NewSpeechHandler creates a new speech handler.
func NewSpeechHandler(svc *service.SpeechService, log *logger.Logger) *SpeechHandler {
	return &SpeechHandler{service: svc, logger: log}
}

// SpeechToText handles POST /api/v1/speech/speechtotext
func (h *SpeechHandler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	text, err := h.service.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		writeServiceError(w, h.logger, err, "transcribe audio")
		return
	}
	writeJSON(w, http.StatusOK, &model.TranscriptionResponse{Text: text})
}
