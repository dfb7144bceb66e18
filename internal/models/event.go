package models

import (
	"strings"
	"time"
)

// Wire event types. The legacy mobile clients send Portuguese type tags.
const (
	EventTypeEntry = "entrada"
	EventTypeExit  = "saida"
)

// CheckinEvent is one entry or exit published to the checkin stream.
// Timestamp stays a string on the wire: clients send ISO-8601 with or
// without a zone offset, and some send nothing at all.
type CheckinEvent struct {
	StudentID int64  `json:"student_id"`
	Timestamp string `json:"timestamp,omitempty"`
	Type      string `json:"type"`
}

// Valid reports whether the event carries the minimum required fields.
func (e CheckinEvent) Valid() bool {
	if e.StudentID <= 0 {
		return false
	}
	t := strings.ToLower(e.Type)
	return t == EventTypeEntry || t == EventTypeExit
}

// Time resolves the event timestamp, falling back to the provided receipt
// time when the field is absent or unparseable.
func (e CheckinEvent) Time(receivedAt time.Time) time.Time {
	return ParseEventTime(e.Timestamp, receivedAt)
}

// BatchCheckinEvent carries multiple checkins in a single message.
type BatchCheckinEvent struct {
	Checkins  []CheckinEvent `json:"checkins"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// TrainRequest asks the worker to retrain the churn model.
type TrainRequest struct {
	RequestedAt string `json:"requested_at,omitempty"`
}

// ScoreRequest asks for churn scoring of one student, or all when nil.
type ScoreRequest struct {
	StudentID   *int64 `json:"student_id,omitempty"`
	RequestedAt string `json:"requested_at,omitempty"`
}

// ReportRequest asks for a daily attendance report.
type ReportRequest struct {
	Date        string `json:"date,omitempty"`
	RequestedAt string `json:"requested_at,omitempty"`
}

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseEventTime parses client timestamps leniently. Offsets are honored
// when present; bare local timestamps are taken as UTC.
func ParseEventTime(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}
