package models

import (
	"encoding/json"
	"fmt"
	"time"

	"consentkit/pkg/platform/sentinel"
)

// TimestampLayout matches what a browser emits for Date.prototype.toISOString:
// UTC with millisecond precision and a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultRetention is how long a stored decision suppresses the banner.
const DefaultRetention = 365 * 24 * time.Hour

// Record is the single persisted consent decision for a client.
//
// Necessary is always true. There is no constructor or decoder path that
// yields a record with Necessary=false; a stored value claiming otherwise is
// malformed and treated as absent.
type Record struct {
	Necessary bool
	Analytics bool
	Marketing bool
	Timestamp time.Time
}

// NewRecord builds the record for a decision taken at now.
func NewRecord(sel Selection, now time.Time) *Record {
	return &Record{
		Necessary: true,
		Analytics: sel.Analytics,
		Marketing: sel.Marketing,
		Timestamp: now.UTC().Truncate(time.Millisecond),
	}
}

// Selection returns the optional categories the record grants.
func (r Record) Selection() Selection {
	return Selection{Analytics: r.Analytics, Marketing: r.Marketing}
}

// Grants reports whether the record approves the category.
func (r Record) Grants(c Category) bool {
	switch c {
	case CategoryNecessary:
		return r.Necessary
	case CategoryAnalytics:
		return r.Analytics
	case CategoryMarketing:
		return r.Marketing
	default:
		return false
	}
}

// Expired reports whether the record is older than the retention window.
func (r Record) Expired(now time.Time, retention time.Duration) bool {
	if retention <= 0 {
		return false
	}
	return !now.Before(r.Timestamp.Add(retention))
}

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

type recordJSON struct {
	Necessary *bool  `json:"necessary"`
	Analytics bool   `json:"analytics"`
	Marketing bool   `json:"marketing"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON emits the persisted layout shared with page scripts.
func (r Record) MarshalJSON() ([]byte, error) {
	necessary := true
	return json.Marshal(recordJSON{
		Necessary: &necessary,
		Analytics: r.Analytics,
		Marketing: r.Marketing,
		Timestamp: r.Timestamp.UTC().Format(TimestampLayout),
	})
}

// UnmarshalJSON accepts only values that satisfy the record invariants.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode consent record: %w: %w", sentinel.ErrMalformed, err)
	}
	if raw.Necessary == nil || !*raw.Necessary {
		return fmt.Errorf("necessary category must be granted: %w", sentinel.ErrMalformed)
	}
	if raw.Timestamp == "" {
		return fmt.Errorf("timestamp is required: %w", sentinel.ErrMalformed)
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, sentinel.ErrMalformed)
	}
	*r = Record{
		Necessary: true,
		Analytics: raw.Analytics,
		Marketing: raw.Marketing,
		Timestamp: ts.UTC(),
	}
	return nil
}

// DecodeRecord parses a stored value.
// Errors wrap sentinel.ErrMalformed.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
