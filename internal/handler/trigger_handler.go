package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

const maxEventBytes = 256 << 10

// TriggerHandler serves the Cognito triggers over HTTP for local development.
// Request and response bodies are the trigger event JSON.
type TriggerHandler struct {
	cognito *CognitoHandler
	logger  *zap.Logger
}

func NewTriggerHandler(cognito *CognitoHandler, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		cognito: cognito,
		logger:  logger,
	}
}

// Response is the error envelope for requests that never reach a trigger.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers the trigger routes
func (h *TriggerHandler) RegisterRoutes(router chi.Router) {
	router.Route("/triggers", func(r chi.Router) {
		r.Post("/create-auth-challenge", h.CreateAuthChallenge)
		r.Post("/define-auth-challenge", h.DefineAuthChallenge)
		r.Post("/verify-auth-challenge", h.VerifyAuthChallenge)
	})
}

func (h *TriggerHandler) CreateAuthChallenge(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var event events.CognitoEventUserPoolsCreateAuthChallenge
	if !h.decode(w, r, &event) {
		return
	}

	out, _ := h.cognito.CreateAuthChallenge(r.Context(), event)
	h.respondWithJSON(w, http.StatusOK, out)
	h.logger.Debug("Trigger served via HTTP",
		util.String("method", "CreateAuthChallenge"),
		util.Duration("duration", time.Since(startTime)))
}

func (h *TriggerHandler) DefineAuthChallenge(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var event events.CognitoEventUserPoolsDefineAuthChallenge
	if !h.decode(w, r, &event) {
		return
	}

	out, _ := h.cognito.DefineAuthChallenge(r.Context(), event)
	h.respondWithJSON(w, http.StatusOK, out)
	h.logger.Debug("Trigger served via HTTP",
		util.String("method", "DefineAuthChallenge"),
		util.Duration("duration", time.Since(startTime)))
}

func (h *TriggerHandler) VerifyAuthChallenge(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var event events.CognitoEventUserPoolsVerifyAuthChallenge
	if !h.decode(w, r, &event) {
		return
	}

	out, _ := h.cognito.VerifyAuthChallenge(r.Context(), event)
	h.respondWithJSON(w, http.StatusOK, out)
	h.logger.Debug("Trigger served via HTTP",
		util.String("method", "VerifyAuthChallenge"),
		util.Duration("duration", time.Since(startTime)))
}

func (h *TriggerHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxEventBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid trigger event")
		return false
	}
	return true
}

func (h *TriggerHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *TriggerHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.logger.Warn("Trigger request rejected",
		util.Int("status", status),
		util.String("message", message),
		util.ErrorField(err))
	h.respondWithJSON(w, status, errorResponse(err, message))
}
