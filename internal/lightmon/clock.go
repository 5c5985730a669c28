package lightmon

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so watermarks and retention cutoffs are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// DateLayout is the ISO-8601 layout used for run timestamps, matching the
// format audit runs record in runStartedAt.
const DateLayout = "2006-01-02T15:04:05.000Z"

// FormatDate renders t in UTC using DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses an ISO-8601 timestamp as stored on a Report.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
