package otp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/otp-gateway/internal/config"
	"github.com/otp-gateway/internal/domain"
	"github.com/otp-gateway/internal/pkg/code"
	"github.com/otp-gateway/internal/pkg/id"
	"github.com/otp-gateway/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

// Sender delivers a one-time code on one channel. Implementations report
// failure as a value so the fallback loop stays a sequential result check.
type Sender interface {
	Send(ctx context.Context, destination, code string, purpose domain.Purpose) domain.DeliveryOutcome
}

type GenerateRequest struct {
	Phone             string          `json:"phone,omitempty"`
	Email             string          `json:"email,omitempty" validate:"omitempty,email"`
	Purpose           domain.Purpose  `json:"purpose" validate:"required"`
	PreferredChannel  *domain.Channel `json:"preferred_channel,omitempty"`
	TTLSeconds        int             `json:"ttl_seconds,omitempty" validate:"omitempty,min=60,max=3600"`
	AssociatedOrderID string          `json:"associated_order_id,omitempty"`
	AssociatedUserID  string          `json:"associated_user_id,omitempty"`
}

type GenerateResult struct {
	OTPID             string         `json:"otp_id"`
	Channel           domain.Channel `json:"channel"`
	Message           string         `json:"message"`
	FallbackAvailable bool           `json:"fallback_available"`
	FallbackUsed      bool           `json:"fallback_used"`
}

type ResendResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Channel domain.Channel `json:"channel"`
}

type StatusResult struct {
	Verified           bool             `json:"verified"`
	Attempts           int              `json:"attempts"`
	MaxAttempts        int              `json:"max_attempts"`
	Channel            domain.Channel   `json:"channel"`
	ExpiresAt          time.Time        `json:"expires_at"`
	CanResend          bool             `json:"can_resend"`
	AvailableFallbacks []domain.Channel `json:"available_fallbacks"`
}

// DeliveryError is the terminal failure after every channel in the fallback
// sequence has been tried. It carries the per-channel reasons for diagnostics.
type DeliveryError struct {
	Failures []domain.ChannelFailure
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Channel, f.Reason))
	}
	return "delivery failed on all channels: " + strings.Join(parts, "; ")
}

func (e *DeliveryError) Unwrap() error { return domain.ErrDeliveryFailed }

// Service is the OTP engine façade: generate-and-deliver, verify, explicit
// resend, and status inspection.
type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Resend(ctx context.Context, otpID string, channel domain.Channel) (*ResendResult, error)
	Status(ctx context.Context, otpID string) (*StatusResult, error)
}

type service struct {
	store   RecordStore
	senders map[domain.Channel]Sender
	cfg     config.OTPConfig
}

func NewService(store RecordStore, senders map[domain.Channel]Sender, cfg config.OTPConfig) Service {
	return &service{store: store, senders: senders, cfg: cfg}
}

func (s *service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, domain.ErrValidation)
	}
	if !domain.ValidPurpose(req.Purpose) {
		return nil, fmt.Errorf("unknown purpose %q: %w", req.Purpose, domain.ErrValidation)
	}
	if req.PreferredChannel != nil {
		if !domain.ValidChannel(*req.PreferredChannel) {
			return nil, fmt.Errorf("unknown channel %q: %w", *req.PreferredChannel, domain.ErrValidation)
		}
		if contactFor(*req.PreferredChannel, req) == "" {
			return nil, fmt.Errorf("channel %s requires a %s contact: %w",
				*req.PreferredChannel, contactKind(*req.PreferredChannel), domain.ErrValidation)
		}
	}

	primary, fallbacks, err := SelectChannels(req.PreferredChannel, req.Phone != "", req.Email != "")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ttl := s.cfg.TTLFor(string(req.Purpose))
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	// The fallback loop below can persist the record under either contact
	// address, so any still-active record for either (identifier, purpose)
	// pair must go before a new code is issued.
	if req.Phone != "" {
		s.supersede(ctx, req.Phone, req.Purpose)
	}
	if req.Email != "" {
		s.supersede(ctx, req.Email, req.Purpose)
	}

	rec := &domain.VerificationRecord{
		ID:                id.New(),
		Purpose:           req.Purpose,
		MaxAttempts:       s.cfg.MaxAttempts,
		AssociatedOrderID: req.AssociatedOrderID,
		AssociatedUserID:  req.AssociatedUserID,
		CreatedAt:         now,
	}

	// Sequential delivery with fallback: one channel at a time, re-persisting
	// the record under the new channel and identifier before each attempt.
	// The code is regenerated per channel since phone and email codes differ
	// in length; a code that never reached the user is safe to discard.
	chain := append([]domain.Channel{primary}, fallbacks...)
	var failures []domain.ChannelFailure
	for i, ch := range chain {
		dest := contactFor(ch, req)
		otpCode := code.Digits(ch.CodeLength())
		hash, err := bcrypt.GenerateFromPassword([]byte(otpCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash code: %w", err)
		}

		rec.Channel = ch
		rec.Identifier = dest
		rec.SecondaryIdentifier = otherContact(ch, req)
		rec.CodeHash = string(hash)
		rec.FallbackChannels = chain[i+1:]
		rec.ExpiresAt = now.Add(ttl)
		rec.UpdatedAt = now
		rec.PurgeAt = rec.ExpiresAt.Add(s.cfg.Retention).Unix()
		if err := s.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist verification record: %w", err)
		}

		outcome := s.send(ctx, ch, dest, otpCode, req.Purpose)
		if outcome.Success {
			slog.Info("otp delivered",
				"otp_id", rec.ID, "purpose", req.Purpose, "channel", ch,
				"fallback_used", i > 0, "provider_message_id", outcome.ProviderMessageID)
			return &GenerateResult{
				OTPID:             rec.ID,
				Channel:           ch,
				Message:           sentMessage(ch, dest),
				FallbackAvailable: len(rec.FallbackChannels) > 0,
				FallbackUsed:      i > 0,
			}, nil
		}

		reason := "unknown delivery failure"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		failures = append(failures, domain.ChannelFailure{Channel: ch, Reason: reason})
		rec.LastDeliveryError = reason
		slog.Warn("otp delivery failed, trying next channel",
			"otp_id", rec.ID, "purpose", req.Purpose, "channel", ch, "remaining", len(chain)-i-1, "err", reason)
	}

	// No code reached the user, so the record must not be verifiable.
	if err := s.store.Delete(ctx, rec.ID); err != nil {
		slog.Warn("failed to remove undeliverable record", "otp_id", rec.ID, "err", err)
	}
	return nil, &DeliveryError{Failures: failures}
}

// Resend generates a new code and delivers it on the explicitly requested
// channel only. Callers direct the channel; nothing automatic happens here.
// A minimum inter-resend interval is enforced against the record's
// last-modified time, independent of any gateway-side limiter.
func (s *service) Resend(ctx context.Context, otpID string, channel domain.Channel) (*ResendResult, error) {
	if !domain.ValidChannel(channel) {
		return nil, fmt.Errorf("unknown channel %q: %w", channel, domain.ErrValidation)
	}
	rec, err := s.store.Get(ctx, otpID)
	if err != nil {
		return nil, err
	}
	if rec.Used {
		return nil, fmt.Errorf("record already verified: %w", domain.ErrAlreadyUsed)
	}

	now := time.Now().UTC()
	if since := now.Sub(rec.UpdatedAt); since < s.cfg.ResendInterval {
		return nil, fmt.Errorf("resend allowed in %s: %w",
			(s.cfg.ResendInterval - since).Round(time.Second), domain.ErrRateLimited)
	}

	if channel != rec.Channel && !containsChannel(rec.FallbackChannels, channel) {
		return nil, fmt.Errorf("channel %s is not available for this record: %w", channel, domain.ErrValidation)
	}
	dest := rec.ContactFor(channel)
	if dest == "" {
		return nil, fmt.Errorf("no contact on record for channel %s: %w", channel, domain.ErrValidation)
	}

	otpCode := code.Digits(channel.CodeLength())
	hash, err := bcrypt.GenerateFromPassword([]byte(otpCode), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	outcome := s.send(ctx, channel, dest, otpCode, rec.Purpose)
	if !outcome.Success {
		reason := "unknown delivery failure"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		return nil, &DeliveryError{Failures: []domain.ChannelFailure{{Channel: channel, Reason: reason}}}
	}

	expiresAt := now.Add(s.cfg.TTLFor(string(rec.Purpose)))
	updates := map[string]interface{}{
		"identifier":          dest,
		"channel":             channel,
		"code_hash":           string(hash),
		"attempts":            0,
		"fallback_channels":   remainingFallbacks(rec, channel),
		"expires_at":          expiresAt,
		"purge_at":            expiresAt.Add(s.cfg.Retention).Unix(),
		"last_delivery_error": "",
	}
	if err := s.store.Update(ctx, rec.ID, updates); err != nil {
		return nil, fmt.Errorf("update verification record: %w", err)
	}

	slog.Info("otp resent", "otp_id", rec.ID, "purpose", rec.Purpose, "channel", channel)
	return &ResendResult{Success: true, Message: sentMessage(channel, dest), Channel: channel}, nil
}

func (s *service) Status(ctx context.Context, otpID string) (*StatusResult, error) {
	rec, err := s.store.Get(ctx, otpID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &StatusResult{
		Verified:           rec.Used,
		Attempts:           rec.Attempts,
		MaxAttempts:        rec.MaxAttempts,
		Channel:            rec.Channel,
		ExpiresAt:          rec.ExpiresAt,
		CanResend:          !rec.Used && now.Sub(rec.UpdatedAt) >= s.cfg.ResendInterval,
		AvailableFallbacks: rec.FallbackChannels,
	}, nil
}

// supersede removes still-active records for the (identifier, purpose) pair
// so at most one valid code exists for it at a time. Best effort: a failure
// here must not block issuing the new code.
func (s *service) supersede(ctx context.Context, identifier string, purpose domain.Purpose) {
	recs, err := s.store.GetByIdentifier(ctx, identifier, purpose)
	if err != nil {
		slog.Warn("could not look up records to supersede", "identifier", identifier, "purpose", purpose, "err", err)
		return
	}
	now := time.Now().UTC()
	for i := range recs {
		if recs[i].Active(now) {
			if err := s.store.Delete(ctx, recs[i].ID); err != nil {
				slog.Warn("could not supersede active record", "otp_id", recs[i].ID, "err", err)
			}
		}
	}
}

func (s *service) send(ctx context.Context, ch domain.Channel, dest, otpCode string, purpose domain.Purpose) domain.DeliveryOutcome {
	sender, ok := s.senders[ch]
	if !ok || sender == nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("no sender configured for channel %s", ch)}
	}
	return sender.Send(ctx, dest, otpCode, purpose)
}

func contactFor(ch domain.Channel, req GenerateRequest) string {
	if ch == domain.ChannelEmail {
		return req.Email
	}
	return req.Phone
}

func otherContact(ch domain.Channel, req GenerateRequest) string {
	if ch == domain.ChannelEmail {
		return req.Phone
	}
	return req.Email
}

func contactKind(ch domain.Channel) domain.IdentifierKind {
	if ch == domain.ChannelEmail {
		return domain.IdentifierEmail
	}
	return domain.IdentifierPhone
}

func containsChannel(chs []domain.Channel, ch domain.Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}

// remainingFallbacks recomputes the untried channel set after an explicit
// resend switches the record to ch.
func remainingFallbacks(rec *domain.VerificationRecord, ch domain.Channel) []domain.Channel {
	pool := append([]domain.Channel{rec.Channel}, rec.FallbackChannels...)
	out := make([]domain.Channel, 0, len(pool))
	for _, c := range pool {
		if c != ch && !containsChannel(out, c) {
			out = append(out, c)
		}
	}
	return out
}
