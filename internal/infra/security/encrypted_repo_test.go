package security

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskstream/internal/domain/model"
	"taskstream/internal/infra/db/memory"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T) *EncryptionService {
	t.Helper()
	enc, err := NewEncryptionService(testKey)
	require.NoError(t, err)
	return enc
}

func TestEncryptionService_RejectsBadKey(t *testing.T) {
	_, err := NewEncryptionService("short")
	assert.Error(t, err)
}

func TestEncryptionService_SealOpen(t *testing.T) {
	enc := newService(t)

	sealed, err := enc.Seal("Hello, wo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "Hello")

	pt, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "Hello, wo", pt)

	empty, err := enc.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	legacy, err := enc.Open("plain text row")
	require.NoError(t, err)
	assert.Equal(t, "plain text row", legacy)
}

func TestEncryptionService_TamperDetected(t *testing.T) {
	enc := newService(t)
	sealed, err := enc.Seal("secret")
	require.NoError(t, err)
	other, err := NewEncryptionService("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestEncryptedRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewTaskRecordRepo()
	repo := NewEncryptedRepo(inner, newService(t))

	require.NoError(t, repo.Put(ctx, model.NewTaskRecord("job1", "req1", "u1")))
	require.NoError(t, repo.Checkpoint(ctx, "job1", 3, "Hello, wo"))

	raw, err := inner.Get(ctx, "job1")
	require.NoError(t, err)
	assert.NotContains(t, raw.PartialOutput, "Hello")

	got, err := repo.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "Hello, wo", got.PartialOutput)
	assert.Equal(t, int64(3), got.Cursor)

	out := "Hello, world!"
	done, err := repo.UpdateStatus(ctx, "job1", model.StatusUpdate{Status: model.TaskStatusCompleted, Output: &out})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", done.PartialOutput)
	assert.Equal(t, model.TaskStatusCompleted, done.Status)
}

func TestEncryptedRepo_CheckpointStillGrowsOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewEncryptedRepo(memory.NewTaskRecordRepo(), newService(t))
	require.NoError(t, repo.Put(ctx, model.NewTaskRecord("job1", "req1", "")))

	require.NoError(t, repo.Checkpoint(ctx, "job1", 2, "a much longer partial output"))
	require.NoError(t, repo.Checkpoint(ctx, "job1", 3, "short"))

	got, err := repo.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "a much longer partial output", got.PartialOutput)
	assert.Equal(t, int64(3), got.Cursor)
}

func TestEncryptedRepo_Lists(t *testing.T) {
	ctx := context.Background()
	repo := NewEncryptedRepo(memory.NewTaskRecordRepo(), newService(t))
	require.NoError(t, repo.Put(ctx, model.NewTaskRecord("job1", "req1", "u1")))
	require.NoError(t, repo.Checkpoint(ctx, "job1", 1, "partial"))

	mine, err := repo.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "partial", mine[0].PartialOutput)

	all, err := repo.ListAllActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "partial", all[0].PartialOutput)
}

func TestEncryptedRepo_OneByteShrinkIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewEncryptedRepo(memory.NewTaskRecordRepo(), newService(t))
	require.NoError(t, repo.Put(ctx, model.NewTaskRecord("job1", "req1", "")))

	require.NoError(t, repo.Checkpoint(ctx, "job1", 2, "Hello, wo!"))
	require.NoError(t, repo.Checkpoint(ctx, "job1", 3, "Hello, wo"))

	got, err := repo.Get(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, "Hello, wo!", got.PartialOutput)
	assert.Equal(t, int64(3), got.Cursor)

	shorter := "Hello, w"
	upd, err := repo.UpdateStatus(ctx, "job1", model.StatusUpdate{Status: model.TaskStatusInProgress, Output: &shorter})
	require.NoError(t, err)
	assert.Equal(t, "Hello, wo!", upd.PartialOutput)
}

func TestEncryptionService_SealedLengthFollowsPlaintext(t *testing.T) {
	enc := newService(t)
	prev := 0
	for n := 1; n <= 64; n++ {
		sealed, err := enc.Seal(strings.Repeat("x", n))
		require.NoError(t, err)
		assert.Greater(t, len(sealed), prev, "plaintext of %d bytes", n)
		prev = len(sealed)

		again, err := enc.Seal(strings.Repeat("y", n))
		require.NoError(t, err)
		assert.Equal(t, len(sealed), len(again), "plaintext of %d bytes", n)
	}
}

func TestEncryptionService_OpensV1Values(t *testing.T) {
	enc := newService(t)
	ct, err := enc.Encrypt("older row")
	require.NoError(t, err)
	pt, err := enc.Open(sealedPrefixV1 + ct)
	require.NoError(t, err)
	assert.Equal(t, "older row", pt)
}
