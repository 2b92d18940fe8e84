package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentkit/pkg/platform/sentinel"
)

func TestNewRecordAlwaysGrantsNecessary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))
	rec := NewRecord(Selection{Analytics: true}, now)

	assert.True(t, rec.Necessary)
	assert.True(t, rec.Analytics)
	assert.False(t, rec.Marketing)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, 123000000, rec.Timestamp.Nanosecond())
}

func TestRecordJSONLayout(t *testing.T) {
	rec := NewRecord(Selection{Analytics: true, Marketing: true}, time.Date(2025, 1, 2, 3, 4, 5, 6000000, time.UTC))

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"necessary":true,"analytics":true,"marketing":true,"timestamp":"2025-01-02T03:04:05.006Z"}`,
		string(data))

	decoded, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestDecodeRecordRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"necessary":`,
		"necessary false":   `{"necessary":false,"analytics":true,"marketing":false,"timestamp":"2025-01-02T03:04:05.000Z"}`,
		"necessary missing": `{"analytics":true,"marketing":false,"timestamp":"2025-01-02T03:04:05.000Z"}`,
		"timestamp missing": `{"necessary":true,"analytics":true,"marketing":false}`,
		"timestamp garbage": `{"necessary":true,"analytics":true,"marketing":false,"timestamp":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := DecodeRecord([]byte(raw))
			require.ErrorIs(t, err, sentinel.ErrMalformed)
			assert.Nil(t, rec)
		})
	}
}

func TestDecodeRecordAcceptsOffsetTimestamps(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"necessary":true,"analytics":false,"marketing":true,"timestamp":"2025-01-02T05:04:05+02:00"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), rec.Timestamp)
	assert.True(t, rec.Grants(CategoryMarketing))
	assert.False(t, rec.Grants(CategoryAnalytics))
	assert.True(t, rec.Grants(CategoryNecessary))
}

func TestRecordExpired(t *testing.T) {
	decided := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecord(Selection{}, decided)

	assert.False(t, rec.Expired(decided.Add(DefaultRetention-time.Second), DefaultRetention))
	assert.True(t, rec.Expired(decided.Add(DefaultRetention), DefaultRetention))
	assert.False(t, rec.Expired(decided.Add(10*DefaultRetention), 0), "zero retention never expires")
}

func TestRecordCloneIsIndependent(t *testing.T) {
	rec := NewRecord(Selection{}, time.Now())
	clone := rec.Clone()
	clone.Analytics = true
	assert.False(t, rec.Analytics)

	var nilRecord *Record
	assert.Nil(t, nilRecord.Clone())
}
