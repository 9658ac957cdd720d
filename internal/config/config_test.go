package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("HUDDLE_DEFAULT_VOTE_WINDOW", "")
	cfg := Load()
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.DefaultVoteWindow != 24*time.Hour {
		t.Fatalf("DefaultVoteWindow = %v, want 24h", cfg.DefaultVoteWindow)
	}
}

func TestGetenvDuration(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "duration string", value: "36h", want: 36 * time.Hour},
		{name: "seconds", value: "90", want: 90 * time.Second},
		{name: "garbage", value: "soon", want: time.Hour},
		{name: "negative", value: "-5m", want: time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_WINDOW", tc.value)
			if got := getenvDuration("TEST_WINDOW", time.Hour); got != tc.want {
				t.Fatalf("getenvDuration(%q) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestStoreDriverIsLowercased(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	if got := Load().StoreDriver; got != "memory" {
		t.Fatalf("StoreDriver = %q, want memory", got)
	}
}
