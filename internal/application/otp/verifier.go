package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otp-gateway/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type VerifyRequest struct {
	OTPID      string             `json:"otp_id,omitempty"`
	Identifier *domain.Identifier `json:"identifier,omitempty"`
	Purpose    domain.Purpose     `json:"purpose,omitempty"`
	Code       string             `json:"code" validate:"required"`
}

type VerifyResult struct {
	Success             bool            `json:"success"`
	Message             string          `json:"message"`
	CanRetry            bool            `json:"can_retry"`
	AttemptsRemaining   int             `json:"attempts_remaining,omitempty"`
	SuggestFallback     bool            `json:"suggest_fallback,omitempty"`
	NextFallbackChannel *domain.Channel `json:"next_fallback_channel,omitempty"`
}

// Verify matches a submitted code against the record identified by otp_id or
// by (identifier, purpose) for legacy callers that only know the contact
// address. Missing and expired records produce the same answer so the
// response can't be used to enumerate identifiers.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("code is required: %w", domain.ErrValidation)
	}
	if req.OTPID == "" && req.Identifier == nil {
		return nil, fmt.Errorf("otp_id or identifier is required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	rec, err := s.lookup(ctx, req, now)
	if err != nil {
		return nil, err
	}

	// An exhausted record is terminal: even the correct code is rejected
	// once the attempt ceiling is reached.
	if rec.Attempts >= rec.MaxAttempts {
		return exhaustedResult(rec), nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(req.Code)); err != nil {
		return s.failedAttempt(ctx, rec)
	}

	// One-way transition, atomic against concurrent verifies of the same
	// record: exactly one caller wins the compare-and-set.
	if err := s.store.MarkUsed(ctx, rec.ID, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			return nil, fmt.Errorf("code already redeemed: %w", domain.ErrAlreadyUsed)
		}
		slog.Error("could not mark record used", "otp_id", rec.ID, "err", err)
		return nil, fmt.Errorf("verification unavailable: %w", domain.ErrExpiredOrMissing)
	}

	slog.Info("otp verified", "otp_id", rec.ID, "purpose", rec.Purpose, "channel", rec.Channel)
	return &VerifyResult{Success: true, Message: "Verification successful."}, nil
}

// lookup resolves the candidate record. Store failures surface as
// EXPIRED_OR_NOT_FOUND: a code that cannot be read cannot be verified, and
// the caller-facing contract stays non-leaky.
func (s *service) lookup(ctx context.Context, req VerifyRequest, now time.Time) (*domain.VerificationRecord, error) {
	if req.OTPID != "" {
		rec, err := s.store.Get(ctx, req.OTPID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("record store read failed during verify", "otp_id", req.OTPID, "err", err)
			}
			return nil, fmt.Errorf("no matching code: %w", domain.ErrExpiredOrMissing)
		}
		if rec.Used {
			return nil, fmt.Errorf("code already redeemed: %w", domain.ErrAlreadyUsed)
		}
		if rec.Expired(now) {
			return nil, fmt.Errorf("no matching code: %w", domain.ErrExpiredOrMissing)
		}
		return rec, nil
	}

	if !domain.ValidPurpose(req.Purpose) {
		return nil, fmt.Errorf("unknown purpose %q: %w", req.Purpose, domain.ErrValidation)
	}
	recs, err := s.store.GetByIdentifier(ctx, req.Identifier.Value, req.Purpose)
	if err != nil {
		slog.Error("record store read failed during verify", "identifier", req.Identifier.Value, "err", err)
		return nil, fmt.Errorf("no matching code: %w", domain.ErrExpiredOrMissing)
	}
	// Legacy lookups can return several rows; the most recently created
	// active record is the one the caller's code belongs to.
	var candidate *domain.VerificationRecord
	for i := range recs {
		if !recs[i].Active(now) {
			continue
		}
		if candidate == nil || recs[i].CreatedAt.After(candidate.CreatedAt) {
			candidate = &recs[i]
		}
	}
	if candidate == nil {
		return nil, fmt.Errorf("no matching code: %w", domain.ErrExpiredOrMissing)
	}
	return candidate, nil
}

// failedAttempt books a wrong-code submission and shapes the retry or
// fallback guidance for the caller.
func (s *service) failedAttempt(ctx context.Context, rec *domain.VerificationRecord) (*VerifyResult, error) {
	attempts, err := s.store.IncrementAttempts(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, domain.ErrMaxAttempts) {
			// Racing callers already drove the counter to the ceiling.
			attempts = rec.MaxAttempts
		} else {
			slog.Error("could not increment attempts", "otp_id", rec.ID, "err", err)
			return nil, fmt.Errorf("verification unavailable: %w", domain.ErrExpiredOrMissing)
		}
	}

	if attempts >= rec.MaxAttempts {
		return exhaustedResult(rec), nil
	}

	remaining := rec.MaxAttempts - attempts
	return retryResult(remaining), nil
}

// exhaustedResult is the terminal answer for an exhausted record: no more
// retries, with a fallback-resend suggestion when an untried channel remains.
func exhaustedResult(rec *domain.VerificationRecord) *VerifyResult {
	if len(rec.FallbackChannels) > 0 {
		next := rec.FallbackChannels[0]
		return &VerifyResult{
			Message:             fmt.Sprintf("Maximum attempts exceeded. A new code can be sent via %s.", next),
			SuggestFallback:     true,
			NextFallbackChannel: &next,
		}
	}
	return &VerifyResult{Message: "Maximum attempts exceeded. Request a new code."}
}

func retryResult(remaining int) *VerifyResult {
	plural := "s"
	if remaining == 1 {
		plural = ""
	}
	return &VerifyResult{
		Message:           fmt.Sprintf("Invalid code. %d attempt%s remaining.", remaining, plural),
		CanRetry:          true,
		AttemptsRemaining: remaining,
	}
}
