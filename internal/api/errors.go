package api

import (
	"net/http"

	"github.com/RichardoC/tele-agent/internal/apperr"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeInvalidArgument, apperr.CodeEmptyInput:
		return http.StatusBadRequest
	case apperr.CodeInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeUnsupportedFileType:
		return http.StatusUnsupportedMediaType
	case apperr.CodeAlreadyQueued:
		return http.StatusConflict
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeCanceled:
		return http.StatusRequestTimeout
	case apperr.CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeBackendTimeout:
		return http.StatusGatewayTimeout
	case apperr.CodeBackendError, apperr.CodeEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorMessage(w, err, apperr.UserMessage(err, h.opts.Locale))
}

func (h *Handler) writeErrorMessage(w http.ResponseWriter, err error, message string) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("code", string(code)), zap.Error(err))
	}
	h.writeJSON(w, status, ErrorResponse{Error: string(code), Message: message})
}
