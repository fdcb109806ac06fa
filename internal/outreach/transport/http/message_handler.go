package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/leadpilothq/outreach-engine/internal/outreach/adapters/msgprovider"
	"github.com/leadpilothq/outreach-engine/internal/outreach/domain"
)

// MessageSender is the application service behind the send endpoint.
type MessageSender interface {
	SendToLead(ctx context.Context, clientID, leadID uuid.UUID, text string) (*domain.Message, error)
}

type MessageHandler struct {
	sender   MessageSender
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessageHandler(sender MessageSender, validate *validator.Validate, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		sender:   sender,
		validate: validate,
		logger:   logger.With("handler", "message"),
	}
}

// HandleSend sends an outbound message to a lead.
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON", Detail: err.Error()})
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Detail: err.Error()})
		return
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid client_id"})
		return
	}
	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid lead_id"})
		return
	}

	msg, err := h.sender.SendToLead(ctx, clientID, leadID, req.Text)
	if err != nil {
		h.writeSendError(ctx, w, logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, SendMessageResponse{
		MessageID:         msg.ID.String(),
		ThreadID:          msg.ThreadID.String(),
		ExternalMessageID: msg.ExternalMessageID,
		SentAt:            msg.SentAt.UTC().Format(time.RFC3339),
	})
}

// writeSendError maps domain and provider errors onto HTTP statuses. A full
// provider fallback failure surfaces its classified user-facing reason.
func (h *MessageHandler) writeSendError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	var reqErr *msgprovider.RequestError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrSendInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "send already in progress for this lead"})
	case errors.Is(err, domain.ErrProviderIDMissing):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "lead identity unresolved", Detail: err.Error()})
	case errors.As(err, &reqErr):
		logger.ErrorContext(ctx, "provider send failed", "error", err, "reason", reqErr.Reason)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:  string(reqErr.Reason),
			Detail: reqErr.Reason.UserMessage(),
		})
	default:
		logger.ErrorContext(ctx, "send failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
