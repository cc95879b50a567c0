package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/otp-gateway/internal/domain"
	"github.com/otp-gateway/internal/infrastructure/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// The verifier tests run against the real in-memory store so the atomic
// attempt-increment and mark-used paths are exercised for real, not mocked.

func seedRecord(t *testing.T, store RecordStore, code string, mutate func(*domain.VerificationRecord)) *domain.VerificationRecord {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	rec := &domain.VerificationRecord{
		ID:          "rec-1",
		Identifier:  "a@b.com",
		CodeHash:    string(hash),
		Purpose:     domain.PurposeSignup,
		Channel:     domain.ChannelEmail,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, store.Put(context.Background(), rec))
	return rec
}

func verifierService(store RecordStore) Service {
	return NewService(store, nil, testOTPConfig())
}

func TestVerify_MissingCode_ValidationError(t *testing.T) {
	svc := verifierService(memstore.New())
	_, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestVerify_NoKey_ValidationError(t *testing.T) {
	svc := verifierService(memstore.New())
	_, err := svc.Verify(context.Background(), VerifyRequest{Code: "123456"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestVerify_UnknownID_ExpiredOrNotFound(t *testing.T) {
	svc := verifierService(memstore.New())
	_, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "nope", Code: "123456"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpiredOrMissing))
}

func TestVerify_CorrectCode_Succeeds(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	result, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})

	require.NoError(t, err)
	assert.True(t, result.Success)

	rec, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, rec.Used)
	require.NotNil(t, rec.VerifiedAt)
}

func TestVerify_UsedRecord_NeverVerifiesAgain(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	_, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})
	require.NoError(t, err)

	// correct code, but the record is spent
	_, err = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
}

func TestVerify_ExpiredRecord_FailsRegardlessOfCode(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", func(rec *domain.VerificationRecord) {
		rec.ExpiresAt = time.Now().UTC().Add(-1 * time.Minute)
	})
	svc := verifierService(store)

	_, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpiredOrMissing))
}

func TestVerify_WrongCode_CountsDownAttempts(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	result, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.CanRetry)
	assert.Equal(t, 2, result.AttemptsRemaining)
	assert.Contains(t, result.Message, "2 attempts remaining")

	result, err = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
	require.NoError(t, err)
	assert.True(t, result.CanRetry)
	assert.Equal(t, 1, result.AttemptsRemaining)
	assert.Contains(t, result.Message, "1 attempt remaining")
}

func TestVerify_MaxAttempts_TerminalWithoutFallback(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	var result *VerifyResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
		require.NoError(t, err)
	}
	assert.False(t, result.Success)
	assert.False(t, result.CanRetry)
	assert.False(t, result.SuggestFallback)
}

func TestVerify_MaxAttempts_SuggestsFallbackChannel(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "4829", func(rec *domain.VerificationRecord) {
		rec.Channel = domain.ChannelSMS
		rec.Identifier = "9876543210"
		rec.SecondaryIdentifier = "a@b.com"
		rec.FallbackChannels = []domain.Channel{domain.ChannelEmail}
	})
	svc := verifierService(store)

	var result *VerifyResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "0000"})
		require.NoError(t, err)
	}
	assert.False(t, result.Success)
	assert.False(t, result.CanRetry)
	assert.True(t, result.SuggestFallback)
	require.NotNil(t, result.NextFallbackChannel)
	assert.Equal(t, domain.ChannelEmail, *result.NextFallbackChannel)
}

func TestVerify_ExhaustedRecord_CorrectCodeStillRejected(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	for i := 0; i < 3; i++ {
		_, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
		require.NoError(t, err)
	}

	// exhaustion is terminal: the correct code no longer verifies
	result, err := svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.False(t, result.CanRetry)
}

func TestVerify_ByIdentifier_PicksMostRecentActive(t *testing.T) {
	store := memstore.New()
	now := time.Now().UTC()

	oldHash, _ := bcrypt.GenerateFromPassword([]byte("111111"), bcrypt.MinCost)
	newHash, _ := bcrypt.GenerateFromPassword([]byte("222222"), bcrypt.MinCost)
	require.NoError(t, store.Put(context.Background(), &domain.VerificationRecord{
		ID: "old", Identifier: "a@b.com", Purpose: domain.PurposeSignup,
		CodeHash: string(oldHash), MaxAttempts: 3,
		CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(8 * time.Minute),
	}))
	require.NoError(t, store.Put(context.Background(), &domain.VerificationRecord{
		ID: "new", Identifier: "a@b.com", Purpose: domain.PurposeSignup,
		CodeHash: string(newHash), MaxAttempts: 3,
		CreatedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	}))

	svc := verifierService(store)
	result, err := svc.Verify(context.Background(), VerifyRequest{
		Identifier: &domain.Identifier{Kind: domain.IdentifierEmail, Value: "a@b.com"},
		Purpose:    domain.PurposeSignup,
		Code:       "222222",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)

	rec, err := store.Get(context.Background(), "new")
	require.NoError(t, err)
	assert.True(t, rec.Used)
}

func TestVerify_ByIdentifier_NoActiveRecords_ExpiredOrNotFound(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", func(rec *domain.VerificationRecord) { rec.Used = true })
	svc := verifierService(store)

	_, err := svc.Verify(context.Background(), VerifyRequest{
		Identifier: &domain.Identifier{Kind: domain.IdentifierEmail, Value: "a@b.com"},
		Purpose:    domain.PurposeSignup,
		Code:       "482913",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExpiredOrMissing))
}

func TestVerify_ConcurrentCorrectCode_ExactlyOneSuccess(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*VerifyResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "482913"})
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < callers; i++ {
		if errs[i] == nil && results[i].Success {
			successes++
		} else {
			assert.True(t, errors.Is(errs[i], domain.ErrAlreadyUsed))
		}
	}
	assert.Equal(t, 1, successes)
}

func TestVerify_ConcurrentWrongCode_AttemptsNeverExceedCeiling(t *testing.T) {
	store := memstore.New()
	seedRecord(t, store, "482913", nil)
	svc := verifierService(store)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Verify(context.Background(), VerifyRequest{OTPID: "rec-1", Code: "000000"})
		}()
	}
	wg.Wait()

	rec, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, rec.Attempts, rec.MaxAttempts)
	assert.Equal(t, rec.MaxAttempts, rec.Attempts)
}
