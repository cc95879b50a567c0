package otp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/otp-gateway/internal/domain"
)

// RecordStore is the persistence contract for verification records. The
// DynamoDB repo and the in-memory store both satisfy it; IncrementAttempts
// and MarkUsed must be atomic in every implementation.
type RecordStore interface {
	Put(ctx context.Context, rec *domain.VerificationRecord) error
	Get(ctx context.Context, id string) (*domain.VerificationRecord, error)
	GetByIdentifier(ctx context.Context, identifier string, purpose domain.Purpose) ([]domain.VerificationRecord, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	// IncrementAttempts atomically bumps the counter, failing with
	// domain.ErrMaxAttempts once the ceiling is reached.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// MarkUsed is a compare-and-set on the used flag; it fails with
	// domain.ErrAlreadyUsed when the flag was already set.
	MarkUsed(ctx context.Context, id string, verifiedAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// FallbackStore layers the durable store over an in-process standby. Writes
// degrade to the standby when the durable store is unreachable, so a generate
// request never fails on storage alone. The standby does not survive process
// restart and is unsafe across horizontally scaled instances; every
// degradation is logged rather than silently masked.
type FallbackStore struct {
	durable RecordStore // nil when no durable store is configured
	standby RecordStore
}

func NewFallbackStore(durable, standby RecordStore) *FallbackStore {
	return &FallbackStore{durable: durable, standby: standby}
}

func (s *FallbackStore) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	if s.durable != nil {
		if err := s.durable.Put(ctx, rec); err == nil {
			return nil
		} else {
			slog.Warn("durable store unavailable, degrading to in-process store", "op", "put", "id", rec.ID, "err", err)
		}
	}
	return s.standby.Put(ctx, rec)
}

// Get consults the durable store first, then the standby: a record written
// during a degraded window only exists in the standby.
func (s *FallbackStore) Get(ctx context.Context, id string) (*domain.VerificationRecord, error) {
	if s.durable != nil {
		rec, err := s.durable.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("durable store read failed, consulting in-process store", "op", "get", "id", id, "err", err)
		}
	}
	return s.standby.Get(ctx, id)
}

func (s *FallbackStore) GetByIdentifier(ctx context.Context, identifier string, purpose domain.Purpose) ([]domain.VerificationRecord, error) {
	var recs []domain.VerificationRecord
	if s.durable != nil {
		durableRecs, err := s.durable.GetByIdentifier(ctx, identifier, purpose)
		if err != nil {
			slog.Warn("durable store read failed, consulting in-process store", "op", "get_by_identifier", "identifier", identifier, "err", err)
		} else {
			recs = durableRecs
		}
	}
	standbyRecs, err := s.standby.GetByIdentifier(ctx, identifier, purpose)
	if err != nil {
		return recs, err
	}
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		seen[r.ID] = true
	}
	for _, r := range standbyRecs {
		if !seen[r.ID] {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

func (s *FallbackStore) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.route(ctx, id, func(st RecordStore) error { return st.Update(ctx, id, updates) })
}

func (s *FallbackStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.route(ctx, id, func(st RecordStore) error {
		var e error
		attempts, e = st.IncrementAttempts(ctx, id)
		return e
	})
	return attempts, err
}

func (s *FallbackStore) MarkUsed(ctx context.Context, id string, verifiedAt time.Time) error {
	return s.route(ctx, id, func(st RecordStore) error { return st.MarkUsed(ctx, id, verifiedAt) })
}

func (s *FallbackStore) Delete(ctx context.Context, id string) error {
	var firstErr error
	if s.durable != nil {
		firstErr = s.durable.Delete(ctx, id)
	}
	if err := s.standby.Delete(ctx, id); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *FallbackStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	if s.durable != nil {
		n, err := s.durable.DeleteExpired(ctx, now)
		total += n
		if err != nil {
			slog.Warn("durable store sweep failed", "err", err)
		}
	}
	n, err := s.standby.DeleteExpired(ctx, now)
	return total + n, err
}

// route targets the store that actually holds the record. A record lives in
// exactly one store: wherever Put landed it, so the atomicity of a mutation
// never spans stores.
func (s *FallbackStore) route(ctx context.Context, id string, op func(RecordStore) error) error {
	if s.durable != nil {
		err := op(s.durable)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return op(s.standby)
}
