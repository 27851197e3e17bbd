package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptech-labs/bulkops-be/internal/engine/domain"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &domain.JobCursor{
		CreatedAt: time.Date(2025, 3, 10, 12, 30, 45, 123456789, time.UTC),
		JobID:     "8f14e45f-ceea-4672-a0bb-7d5e1a3f9c21",
	}

	encoded, err := EncodeJobCursor(in)
	require.NoError(t, err)

	out, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, in.JobID, out.JobID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecodeJobCursor(t *testing.T) {
	t.Run("empty cursor is nil", func(t *testing.T) {
		cursor, err := DecodeJobCursor("")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := DecodeJobCursor("!!not-base64")
		assert.Error(t, err)
	})

	t.Run("wrong part count", func(t *testing.T) {
		_, err := DecodeJobCursor(base64.StdEncoding.EncodeToString([]byte("only-one-part")))
		assert.Error(t, err)
	})

	t.Run("non-numeric timestamp", func(t *testing.T) {
		_, err := DecodeJobCursor(base64.StdEncoding.EncodeToString([]byte("yesterday|job-1")))
		assert.Error(t, err)
	})
}
