package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recogito/studio-jobs/internal/storage"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := storage.JobCursor{
		CreatedAt: time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.UTC),
		JobID:     "6f1c1b8e-3b9a-4c53-9a57-7f0d6f7b8e21",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString

	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty is first page", cursor: "", wantNil: true},
		{name: "not base64", cursor: "%%%", wantErr: true},
		{name: "no separator", cursor: enc([]byte("12345")), wantErr: true},
		{name: "bad timestamp", cursor: enc([]byte("yesterday|job-1")), wantErr: true},
		{name: "missing id", cursor: enc([]byte("12345|")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}
