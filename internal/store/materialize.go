package store

import (
	"time"

	"huddle/api/internal/util"
)

// Transition is the status change a proposal is due for after a tally.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionTrigger
	TransitionClose
)

func (t Transition) String() string {
	switch t {
	case TransitionTrigger:
		return "trigger"
	case TransitionClose:
		return "close"
	default:
		return "none"
	}
}

// NextTransition applies the proposal state machine. Only open proposals
// move; triggered and closed are terminal.
func NextTransition(status ProposalStatus, yesCount, threshold int, windowEndsAt, now time.Time) Transition {
	if status != StatusOpen {
		return TransitionNone
	}
	if yesCount >= threshold {
		return TransitionTrigger
	}
	if !now.Before(windowEndsAt) {
		return TransitionClose
	}
	return TransitionNone
}

// VotingOpen reports whether a vote arriving at now may be accepted.
func VotingOpen(status ProposalStatus, windowEndsAt, now time.Time) bool {
	return status == StatusOpen && now.Before(windowEndsAt)
}

// roomForProposal builds the event room created when a proposal triggers.
func roomForProposal(proposal Proposal, now time.Time) EventRoom {
	proposalID := proposal.ID
	return EventRoom{
		ID:          util.NewID("room"),
		ProposalID:  &proposalID,
		GroupID:     proposal.GroupID,
		Title:       proposal.Title,
		Description: proposal.Description,
		StartsAt:    proposal.StartsAt,
		EndsAt:      proposal.EndsAt,
		CreatedBy:   proposal.CreatedBy,
		CreatedAt:   now,
	}
}
