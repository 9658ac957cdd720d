package store

import (
	"errors"
	"time"
)

var (
	// ErrVotingClosed is returned when a vote arrives for a proposal that is
	// no longer open or whose window has passed.
	ErrVotingClosed = errors.New("voting closed")
	// ErrNotGroupMember is returned when the voter does not belong to the
	// proposal's group.
	ErrNotGroupMember = errors.New("not a group member")
	// ErrProposalNotOpen guards mutations that are only allowed while open.
	ErrProposalNotOpen = errors.New("proposal not open")
	// ErrAlreadyExists reports a unique-key conflict.
	ErrAlreadyExists = errors.New("already exists")
)

type ProposalStatus string

const (
	StatusOpen      ProposalStatus = "open"
	StatusTriggered ProposalStatus = "triggered"
	StatusClosed    ProposalStatus = "closed"
)

type VoteValue string

const (
	VoteYes   VoteValue = "yes"
	VoteMaybe VoteValue = "maybe"
	VoteNo    VoteValue = "no"
)

func (v VoteValue) Valid() bool {
	switch v {
	case VoteYes, VoteMaybe, VoteNo:
		return true
	default:
		return false
	}
}

type GroupRole string

const (
	GroupRoleOwner  GroupRole = "owner"
	GroupRoleAdmin  GroupRole = "admin"
	GroupRoleMember GroupRole = "member"
)

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Profile is the public slice of a user shown next to proposals.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	// Role is the caller's role when listed through a membership.
	Role GroupRole `json:"role,omitempty"`
}

type GroupMember struct {
	GroupID  string    `json:"groupId"`
	UserID   string    `json:"userId"`
	Role     GroupRole `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Proposal struct {
	ID               string         `json:"id"`
	GroupID          string         `json:"groupId"`
	CreatedBy        string         `json:"createdBy"`
	Title            string         `json:"title"`
	Description      *string        `json:"description,omitempty"`
	StartsAt         *time.Time     `json:"startsAt,omitempty"`
	EndsAt           *time.Time     `json:"endsAt,omitempty"`
	VoteWindowEndsAt time.Time      `json:"voteWindowEndsAt"`
	Threshold        int            `json:"threshold"`
	Status           ProposalStatus `json:"status"`
	IsAnonymous      bool           `json:"isAnonymous"`
	EstimatedCost    *float64       `json:"estimatedCost,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	// EventRoomID is read through the event_rooms.proposal_id relationship.
	EventRoomID *string `json:"eventRoomId,omitempty"`
}

type Vote struct {
	ProposalID string    `json:"proposalId"`
	UserID     string    `json:"userId"`
	Value      VoteValue `json:"value"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type VoteCounts struct {
	YesCount   int `json:"yesCount"`
	MaybeCount int `json:"maybeCount"`
	NoCount    int `json:"noCount"`
	TotalVotes int `json:"totalVotes"`
}

func (c *VoteCounts) add(value VoteValue) {
	switch value {
	case VoteYes:
		c.YesCount++
	case VoteMaybe:
		c.MaybeCount++
	case VoteNo:
		c.NoCount++
	}
	c.TotalVotes++
}

// ProposalDetail is a proposal with its tally and the reader's own vote.
type ProposalDetail struct {
	Proposal
	Counts VoteCounts `json:"voteCounts"`
	MyVote *VoteValue `json:"myVote"`
}

type CastVoteParams struct {
	ProposalID string
	UserID     string
	Value      VoteValue
	Now        time.Time
}

type CastVoteResult struct {
	ProposalID   string    `json:"proposalId"`
	GroupID      string    `json:"groupId"`
	Value        VoteValue `json:"value"`
	YesCount     int       `json:"yesCount"`
	MaybeCount   int       `json:"maybeCount"`
	NoCount      int       `json:"noCount"`
	TotalVotes   int       `json:"totalVotes"`
	Threshold    int       `json:"threshold"`
	ThresholdMet bool      `json:"thresholdMet"`
	EventRoomID  *string   `json:"eventRoomId"`
	// Materialized is set only for the vote that created the event room.
	Materialized bool `json:"materialized"`
	// Replaced is set when an earlier vote by the same user was overwritten.
	Replaced bool `json:"replaced"`
}

type EventRoom struct {
	ID          string     `json:"id"`
	ProposalID  *string    `json:"proposalId"`
	GroupID     string     `json:"groupId"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type EventRoomParticipant struct {
	EventRoomID string    `json:"eventRoomId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type EventMessage struct {
	ID          string    `json:"id"`
	EventRoomID string    `json:"eventRoomId"`
	UserID      string    `json:"userId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

type EventInvite struct {
	Token       string    `json:"token"`
	EventRoomID string    `json:"eventRoomId"`
	CreatedBy   string    `json:"createdBy"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type PendingDecision struct {
	Proposal         Proposal   `json:"proposal"`
	GroupName        string     `json:"groupName"`
	VoteCounts       VoteCounts `json:"voteCounts"`
	MyVote           *VoteValue `json:"myVote"`
	CreatedByProfile *Profile   `json:"createdByProfile,omitempty"`
}

// MessageSearchRecord is an event message joined with its room's group, used
// to rebuild the search index.
type MessageSearchRecord struct {
	Message   EventMessage
	GroupID   string
	RoomTitle string
}
