package otp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/otp-gateway/internal/domain"
	"github.com/otp-gateway/internal/infrastructure/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps a real in-process store and fails every call while
// unavailable is set, simulating an unreachable durable backend.
type flakyStore struct {
	*memstore.Store
	unavailable bool
}

var errBackendDown = errors.New("dynamodb: connection refused")

func (f *flakyStore) Put(ctx context.Context, rec *domain.VerificationRecord) error {
	if f.unavailable {
		return errBackendDown
	}
	return f.Store.Put(ctx, rec)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*domain.VerificationRecord, error) {
	if f.unavailable {
		return nil, errBackendDown
	}
	return f.Store.Get(ctx, id)
}

func (f *flakyStore) GetByIdentifier(ctx context.Context, identifier string, purpose domain.Purpose) ([]domain.VerificationRecord, error) {
	if f.unavailable {
		return nil, errBackendDown
	}
	return f.Store.GetByIdentifier(ctx, identifier, purpose)
}

func (f *flakyStore) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	if f.unavailable {
		return errBackendDown
	}
	return f.Store.Update(ctx, id, updates)
}

func (f *flakyStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	if f.unavailable {
		return 0, errBackendDown
	}
	return f.Store.IncrementAttempts(ctx, id)
}

func (f *flakyStore) MarkUsed(ctx context.Context, id string, verifiedAt time.Time) error {
	if f.unavailable {
		return errBackendDown
	}
	return f.Store.MarkUsed(ctx, id, verifiedAt)
}

func fallbackRecord(id, identifier string) *domain.VerificationRecord {
	now := time.Now().UTC()
	return &domain.VerificationRecord{
		ID:          id,
		Identifier:  identifier,
		Purpose:     domain.PurposeSignup,
		Channel:     domain.ChannelEmail,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

func TestFallbackStore_PutDegradesToStandby(t *testing.T) {
	durable := &flakyStore{Store: memstore.New(), unavailable: true}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))

	// The record must be readable through the layered store even while the
	// durable backend is down.
	rec, err := fs.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", rec.Identifier)

	// And it landed in the standby, not the durable store.
	_, err = standby.Get(context.Background(), "r1")
	require.NoError(t, err)
	durable.unavailable = false
	_, err = durable.Get(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFallbackStore_PutPrefersDurable(t *testing.T) {
	durable := &flakyStore{Store: memstore.New()}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))

	_, err := durable.Get(context.Background(), "r1")
	require.NoError(t, err)
	_, err = standby.Get(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFallbackStore_NilDurable_UsesStandbyOnly(t *testing.T) {
	standby := memstore.New()
	fs := NewFallbackStore(nil, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))

	rec, err := fs.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
}

func TestFallbackStore_MutationsRouteToHoldingStore(t *testing.T) {
	durable := &flakyStore{Store: memstore.New(), unavailable: true}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	// Written during an outage, so it lives in the standby.
	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))
	durable.unavailable = false

	n, err := fs.IncrementAttempts(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, fs.MarkUsed(context.Background(), "r1", time.Now().UTC()))

	rec, err := standby.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.True(t, rec.Used)
}

func TestFallbackStore_UpdateRoutesToStandby_NoPhantomInDurable(t *testing.T) {
	durable := &flakyStore{Store: memstore.New(), unavailable: true}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))
	durable.unavailable = false

	require.NoError(t, fs.Update(context.Background(), "r1", map[string]interface{}{
		"identifier": "9876543210",
	}))

	rec, err := standby.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "9876543210", rec.Identifier)

	// The recovered durable store must not have grown a phantom copy.
	_, err = durable.Get(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestVerify_RecordWrittenDuringOutage_VerifiesAfterRecovery(t *testing.T) {
	durable := &flakyStore{Store: memstore.New(), unavailable: true}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	// The record lands in the standby while the durable store is down; the
	// durable store then comes back empty-handed.
	seedRecord(t, fs, "123456", nil)
	durable.unavailable = false

	svc := NewService(fs, nil, testOTPConfig())

	// A wrong code counts as one attempt against the standby-held record,
	// not as exhaustion.
	res, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.CanRetry)
	assert.Equal(t, 2, res.AttemptsRemaining)

	// The correct code then verifies exactly as if the record were durable.
	res, err = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "123456"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestFallbackStore_MutationErrorsPassThrough(t *testing.T) {
	durable := &flakyStore{Store: memstore.New()}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("r1", "a@b.com")))
	require.NoError(t, fs.MarkUsed(context.Background(), "r1", time.Now().UTC()))

	// A CAS conflict on the durable store must not be retried against the
	// standby; the conflict is the answer.
	err := fs.MarkUsed(context.Background(), "r1", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
}

func TestFallbackStore_GetByIdentifierMergesBothStores(t *testing.T) {
	durable := &flakyStore{Store: memstore.New()}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, fs.Put(context.Background(), fallbackRecord("durable-rec", "a@b.com")))
	durable.unavailable = true
	require.NoError(t, fs.Put(context.Background(), fallbackRecord("standby-rec", "a@b.com")))
	durable.unavailable = false

	recs, err := fs.GetByIdentifier(context.Background(), "a@b.com", domain.PurposeSignup)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	ids := []string{recs[0].ID, recs[1].ID}
	assert.Contains(t, ids, "durable-rec")
	assert.Contains(t, ids, "standby-rec")
}

func TestFallbackStore_DeleteHitsBothStores(t *testing.T) {
	durable := &flakyStore{Store: memstore.New()}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	require.NoError(t, durable.Put(context.Background(), fallbackRecord("r1", "a@b.com")))
	require.NoError(t, standby.Put(context.Background(), fallbackRecord("r1", "a@b.com")))

	require.NoError(t, fs.Delete(context.Background(), "r1"))

	_, err := durable.Get(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = standby.Get(context.Background(), "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFallbackStore_DeleteExpiredSweepsBoth(t *testing.T) {
	durable := &flakyStore{Store: memstore.New()}
	standby := memstore.New()
	fs := NewFallbackStore(durable, standby)

	now := time.Now().UTC()
	for i, st := range []RecordStore{durable, standby} {
		rec := fallbackRecord(fmt.Sprintf("stale-%d", i), "a@b.com")
		rec.PurgeAt = now.Add(-time.Hour).Unix()
		require.NoError(t, st.Put(context.Background(), rec))
	}

	n, err := fs.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
