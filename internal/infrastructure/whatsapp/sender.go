// Package whatsapp delivers one-time codes through a WhatsApp template
// message gateway. WhatsApp requires pre-approved templates, which is why
// the channel policy only ever uses it as a fallback.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/otp-gateway/internal/config"
	"github.com/otp-gateway/internal/domain"
)

type Sender struct {
	apiURL string
	token  string
	client *http.Client
}

type templateRequest struct {
	To       string   `json:"to"`
	Template string   `json:"template"`
	Params   []string `json:"params"`
}

type templateResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func NewSender(cfg *config.Config) *Sender {
	return &Sender{
		apiURL: cfg.WhatsAppAPIURL,
		token:  cfg.WhatsAppToken,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a template message to the gateway. An unconfigured gateway is
// reported as a failed outcome so the fallback loop can move on.
func (s *Sender) Send(ctx context.Context, destination, code string, purpose domain.Purpose) domain.DeliveryOutcome {
	if s.apiURL == "" {
		return domain.DeliveryOutcome{Err: fmt.Errorf("whatsapp gateway not configured")}
	}

	payload, err := json.Marshal(templateRequest{
		To:       destination,
		Template: templateFor(purpose),
		Params:   []string{code},
	})
	if err != nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("marshal template request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return domain.DeliveryOutcome{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("whatsapp request: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result templateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("parse whatsapp response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK || result.Error != "" {
		return domain.DeliveryOutcome{Err: fmt.Errorf("whatsapp gateway status %d: %s", resp.StatusCode, result.Error)}
	}
	return domain.DeliveryOutcome{Success: true, ProviderMessageID: result.MessageID}
}

// templateFor maps a purpose to its pre-approved template id.
func templateFor(purpose domain.Purpose) string {
	switch purpose {
	case domain.PurposeAgentOrder:
		return "order_verification_code"
	default:
		return "account_verification_code"
	}
}
