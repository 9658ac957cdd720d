// Package expiry decides when an event room stops accepting messages.
//
// Expiry is always derived from the room's timestamps and the caller's clock;
// nothing is persisted, so the same room can be live for one check and expired
// for the next.
package expiry

import "time"

const (
	// GraceAfterEnd keeps a room open for this long after a scheduled end.
	GraceAfterEnd = 12 * time.Hour
	// UnscheduledLifetime applies to rooms without an end time.
	UnscheduledLifetime = 72 * time.Hour
)

// Remaining is the time left before a room expires, floored to whole minutes.
type Remaining struct {
	Expired bool `json:"expired"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
}

// ExpiresAt returns the instant a room with the given timestamps expires.
func ExpiresAt(endsAt *time.Time, createdAt time.Time) time.Time {
	if endsAt != nil {
		return endsAt.Add(GraceAfterEnd)
	}
	return createdAt.Add(UnscheduledLifetime)
}

// IsExpired reports whether the room is expired at now. The boundary instant
// counts as expired.
func IsExpired(endsAt *time.Time, createdAt, now time.Time) bool {
	return !now.Before(ExpiresAt(endsAt, createdAt))
}

func TimeRemaining(endsAt *time.Time, createdAt, now time.Time) Remaining {
	left := ExpiresAt(endsAt, createdAt).Sub(now)
	if left <= 0 {
		return Remaining{Expired: true}
	}
	totalMinutes := int(left / time.Minute)
	return Remaining{
		Hours:   totalMinutes / 60,
		Minutes: totalMinutes % 60,
	}
}
