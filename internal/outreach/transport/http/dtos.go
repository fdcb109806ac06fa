package http

// SendMessageRequest is the outbound send API payload.
type SendMessageRequest struct {
	ClientID string `json:"client_id" validate:"required,uuid4"`
	LeadID   string `json:"lead_id" validate:"required,uuid4"`
	Text     string `json:"text" validate:"required,max=8000"`
}

// SendMessageResponse echoes the persisted message identifiers.
type SendMessageResponse struct {
	MessageID         string `json:"message_id"`
	ThreadID          string `json:"thread_id"`
	ExternalMessageID string `json:"external_message_id"`
	SentAt            string `json:"sent_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status string `json:"status"`
	Kind   string `json:"kind"`
}
