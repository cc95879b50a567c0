// Package memstore is the in-process degraded-mode record store. It does not
// survive process restart and is unsafe across horizontally scaled instances;
// callers log the degradation whenever it substitutes for the durable store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/otp-gateway/internal/domain"
)

// Store keeps verification records in a mutex-protected map. All mutating
// operations are atomic under the lock, which gives the same guarantees the
// durable store provides with conditional updates.
type Store struct {
	mu      sync.Mutex
	records map[string]*domain.VerificationRecord
}

func New() *Store {
	return &Store{records: make(map[string]*domain.VerificationRecord)}
}

func (s *Store) Put(_ context.Context, rec *domain.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) GetByIdentifier(_ context.Context, identifier string, purpose domain.Purpose) ([]domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []domain.VerificationRecord
	for _, rec := range s.records {
		if rec.Identifier == identifier && rec.Purpose == purpose {
			recs = append(recs, *rec)
		}
	}
	// newest first, matching the GSI sort order
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

func (s *Store) Update(_ context.Context, id string, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	for k, v := range updates {
		applyField(rec, k, v)
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return 0, fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	if rec.Attempts >= rec.MaxAttempts {
		return 0, domain.ErrMaxAttempts
	}
	rec.Attempts++
	rec.UpdatedAt = time.Now().UTC()
	return rec.Attempts, nil
}

func (s *Store) MarkUsed(_ context.Context, id string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("verification record %s: %w", id, domain.ErrNotFound)
	}
	if rec.Used {
		return domain.ErrAlreadyUsed
	}
	rec.Used = true
	at := verifiedAt.UTC()
	rec.VerifiedAt = &at
	rec.UpdatedAt = at
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// DeleteExpired removes records whose purge deadline has passed.
func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.PurgeAt > 0 && rec.PurgeAt < now.Unix() {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// applyField mirrors the durable store's update-by-attribute-name contract
// for the fields the OTP engine actually updates.
func applyField(rec *domain.VerificationRecord, field string, value interface{}) {
	switch field {
	case "identifier":
		if v, ok := value.(string); ok {
			rec.Identifier = v
		}
	case "code_hash":
		if v, ok := value.(string); ok {
			rec.CodeHash = v
		}
	case "channel":
		if v, ok := value.(domain.Channel); ok {
			rec.Channel = v
		}
	case "fallback_channels":
		if v, ok := value.([]domain.Channel); ok {
			rec.FallbackChannels = v
		}
	case "attempts":
		if v, ok := value.(int); ok {
			rec.Attempts = v
		}
	case "last_delivery_error":
		if v, ok := value.(string); ok {
			rec.LastDeliveryError = v
		}
	case "expires_at":
		if v, ok := value.(time.Time); ok {
			rec.ExpiresAt = v
		}
	case "purge_at":
		if v, ok := value.(int64); ok {
			rec.PurgeAt = v
		}
	}
}
