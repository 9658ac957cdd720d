package store

import (
	"testing"
	"time"
)

func TestNextTransition(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name      string
		status    ProposalStatus
		yes       int
		threshold int
		window    time.Time
		want      Transition
	}{
		{name: "open below threshold", status: StatusOpen, yes: 1, threshold: 2, window: future, want: TransitionNone},
		{name: "open at threshold", status: StatusOpen, yes: 2, threshold: 2, window: future, want: TransitionTrigger},
		{name: "open above threshold", status: StatusOpen, yes: 5, threshold: 2, window: future, want: TransitionTrigger},
		{name: "window passed below threshold", status: StatusOpen, yes: 2, threshold: 3, window: past, want: TransitionClose},
		{name: "window boundary closes", status: StatusOpen, yes: 0, threshold: 1, window: now, want: TransitionClose},
		{name: "triggered is terminal", status: StatusTriggered, yes: 0, threshold: 3, window: past, want: TransitionNone},
		{name: "closed is terminal", status: StatusClosed, yes: 9, threshold: 3, window: future, want: TransitionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextTransition(tc.status, tc.yes, tc.threshold, tc.window, now); got != tc.want {
				t.Fatalf("NextTransition() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestVotingOpen(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if !VotingOpen(StatusOpen, now.Add(time.Second), now) {
		t.Fatal("expected voting open before window end")
	}
	if VotingOpen(StatusOpen, now, now) {
		t.Fatal("expected voting closed at window end")
	}
	if VotingOpen(StatusTriggered, now.Add(time.Hour), now) {
		t.Fatal("expected voting closed once triggered")
	}
}

func TestRoomForProposalCopiesSchedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	starts := now.Add(48 * time.Hour)
	ends := starts.Add(3 * time.Hour)
	description := "bring snacks"
	proposal := Proposal{
		ID:          "prop_1",
		GroupID:     "grp_1",
		CreatedBy:   "usr_1",
		Title:       "Board games",
		Description: &description,
		StartsAt:    &starts,
		EndsAt:      &ends,
	}

	room := roomForProposal(proposal, now)
	if room.ProposalID == nil || *room.ProposalID != "prop_1" {
		t.Fatalf("ProposalID = %v, want prop_1", room.ProposalID)
	}
	if room.GroupID != "grp_1" || room.Title != "Board games" || room.Description != &description {
		t.Fatalf("unexpected room: %+v", room)
	}
	if room.StartsAt == nil || !room.StartsAt.Equal(starts) || room.EndsAt == nil || !room.EndsAt.Equal(ends) {
		t.Fatalf("schedule not copied: %+v", room)
	}
	if !room.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", room.CreatedAt, now)
	}
}
