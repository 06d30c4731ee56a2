package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
	StatusPaid       JobStatus = "paid"
)

// KnownStatuses lists the statuses the API is known to send. The set is open:
// jobs carrying any other status are kept as-is.
var KnownStatuses = []JobStatus{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusPaid,
}

type (
	JobStatus string

	Money struct {
		Cents int64
	}

	Job struct {
		ID          int64       `json:"id"`
		Description string      `json:"description"`
		Status      JobStatus   `json:"status"`
		Price       Money       `json:"price"`
		ScheduledAt ScheduledAt `json:"scheduledAt"`
		Client      string      `json:"client"`
		Address     string      `json:"address"`
	}

	ChargeLineItem struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Amount      Money  `json:"amount"`
	}

	// Invoice is the canonical invoice record held by the backend.
	Invoice struct {
		JobID     int64            `json:"jobId"`
		Price     Money            `json:"price"`
		Paid      bool             `json:"paid"`
		Charges   []ChargeLineItem `json:"charges"`
		UpdatedAt time.Time        `json:"updatedAt"`
	}

	// InvoiceSubmission is the payload sent once per edit session.
	InvoiceSubmission struct {
		Price   Money            `json:"price"`
		Paid    bool             `json:"paid"`
		Charges []ChargeLineItem `json:"charges"`
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrNoCharges          = errors.New("no charges added")
)

// maxDescriptionLen counts characters, not bytes.
const maxDescriptionLen = 200

// IsKnown reports whether s is one of KnownStatuses.
func (s JobStatus) IsKnown() bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// ParseStatuses splits a comma separated list of statuses, ignoring blanks.
func ParseStatuses(s string) []JobStatus {
	var out []JobStatus
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, JobStatus(strings.ToLower(part)))
	}
	return out
}

// IsScheduled reports whether the job carries any scheduledAt value, valid or not.
func (j Job) IsScheduled() bool {
	return j.ScheduledAt.IsSet()
}

func (c ChargeLineItem) Validate() error {
	if strings.TrimSpace(c.Description) == "" {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(c.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if c.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s InvoiceSubmission) Validate() error {
	if len(s.Charges) == 0 {
		return ErrNoCharges
	}
	var sum int64
	for _, c := range s.Charges {
		if err := c.Validate(); err != nil {
			return err
		}
		sum += c.Amount.Cents
	}
	if sum != s.Price.Cents {
		return errors.New("price does not match sum of charges")
	}
	return nil
}

// Total sums the invoice's charges.
func (inv Invoice) Total() Money {
	var sum int64
	for _, c := range inv.Charges {
		sum += c.Amount.Cents
	}
	return Money{Cents: sum}
}

// ScheduledAt holds a job's scheduled timestamp as received on the wire.
// The zero value is "unscheduled". Parsing happens lazily against a
// location so that offset-less timestamps are read in the caller's zone.
type ScheduledAt struct {
	raw string
}

var (
	offsetLayouts = []string{time.RFC3339Nano}
	localLayouts  = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// NewScheduledAt wraps a raw timestamp string.
func NewScheduledAt(raw string) ScheduledAt {
	return ScheduledAt{raw: strings.TrimSpace(raw)}
}

// ScheduledAtTime builds a ScheduledAt from an instant.
func ScheduledAtTime(t time.Time) ScheduledAt {
	if t.IsZero() {
		return ScheduledAt{}
	}
	return ScheduledAt{raw: t.Format(time.RFC3339)}
}

func (s ScheduledAt) IsSet() bool {
	return s.raw != ""
}

func (s ScheduledAt) Raw() string {
	return s.raw
}

// In parses the timestamp and converts it to loc. It returns false for both
// unset and malformed values.
func (s ScheduledAt) In(loc *time.Location) (time.Time, bool) {
	if s.raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s.raw); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s.raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Valid reports whether the value is set and parses.
func (s ScheduledAt) Valid() bool {
	_, ok := s.In(time.UTC)
	return ok
}

func (s ScheduledAt) MarshalJSON() ([]byte, error) {
	if s.raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.raw)
}

func (s *ScheduledAt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = ScheduledAt{}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		// Non-string values are kept verbatim so they fail to parse later.
		*s = ScheduledAt{raw: trimmed}
		return nil
	}
	*s = NewScheduledAt(str)
	return nil
}
