package expiry

import (
	"testing"
	"time"
)

func TestExpiresAt(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ends := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	if got, want := ExpiresAt(&ends, created), ends.Add(12*time.Hour); !got.Equal(want) {
		t.Fatalf("ExpiresAt(ends) = %v, want %v", got, want)
	}
	if got, want := ExpiresAt(nil, created), created.Add(72*time.Hour); !got.Equal(want) {
		t.Fatalf("ExpiresAt(nil) = %v, want %v", got, want)
	}
}

func TestIsExpired(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ends := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		endsAt *time.Time
		now    time.Time
		want   bool
	}{
		{name: "scheduled, before grace ends", endsAt: &ends, now: ends.Add(11*time.Hour + 59*time.Minute), want: false},
		{name: "scheduled, exactly at boundary", endsAt: &ends, now: ends.Add(12 * time.Hour), want: true},
		{name: "scheduled, after boundary", endsAt: &ends, now: ends.Add(13 * time.Hour), want: true},
		{name: "unscheduled, fresh", endsAt: nil, now: created.Add(time.Hour), want: false},
		{name: "unscheduled, exactly 72h", endsAt: nil, now: created.Add(72 * time.Hour), want: true},
		{name: "unscheduled, 71h59m", endsAt: nil, now: created.Add(71*time.Hour + 59*time.Minute), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpired(tc.endsAt, created, tc.now); got != tc.want {
				t.Fatalf("IsExpired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTimeRemaining(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := TimeRemaining(nil, created, created.Add(70*time.Hour+15*time.Minute+30*time.Second))
	if got.Expired || got.Hours != 1 || got.Minutes != 44 {
		t.Fatalf("TimeRemaining() = %+v, want 1h44m", got)
	}

	got = TimeRemaining(nil, created, created.Add(80*time.Hour))
	if !got.Expired || got.Hours != 0 || got.Minutes != 0 {
		t.Fatalf("TimeRemaining() after expiry = %+v", got)
	}
}

func TestExpiryFollowsTheClock(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := created.Add(71 * time.Hour)
	if IsExpired(nil, created, now) {
		t.Fatal("room should be live at 71h")
	}
	// Same room, later clock: no stored state is consulted.
	if !IsExpired(nil, created, now.Add(2*time.Hour)) {
		t.Fatal("room should be expired at 73h")
	}
}
