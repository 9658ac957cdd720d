package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"huddle/api/internal/util"
)

// MemoryStore keeps everything in process. It follows the same contract as
// PostgresStore, including sql.ErrNoRows for missing rows, and backs local
// runs with STORE_DRIVER=memory as well as the service tests.
type MemoryStore struct {
	mu             sync.Mutex
	users          map[string]User
	userByName     map[string]string
	groups         map[string]Group
	members        map[string]map[string]GroupMember
	proposals      map[string]Proposal
	votes          map[string]map[string]Vote
	rooms          map[string]EventRoom
	roomByProposal map[string]string
	participants   map[string]map[string]EventRoomParticipant
	messages       map[string][]EventMessage
	invites        map[string]EventInvite
	proposalLocks  map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          map[string]User{},
		userByName:     map[string]string{},
		groups:         map[string]Group{},
		members:        map[string]map[string]GroupMember{},
		proposals:      map[string]Proposal{},
		votes:          map[string]map[string]Vote{},
		rooms:          map[string]EventRoom{},
		roomByProposal: map[string]string{},
		participants:   map[string]map[string]EventRoomParticipant{},
		messages:       map[string][]EventMessage{},
		invites:        map[string]EventInvite{},
		proposalLocks:  map[string]*sync.Mutex{},
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.userByName[name]; ok {
		return s.users[id], nil
	}
	user := User{
		ID:          util.NewID("usr"),
		DisplayName: name,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@local.huddle.dev",
		CreatedAt:   time.Now().UTC(),
	}
	s.users[user.ID] = user
	s.userByName[name] = user.ID
	return user, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []User
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, group Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return ErrAlreadyExists
	}
	group.Role = ""
	s.groups[group.ID] = group
	s.members[group.ID] = map[string]GroupMember{
		group.CreatedBy: {GroupID: group.ID, UserID: group.CreatedBy, Role: GroupRoleOwner, JoinedAt: group.CreatedAt},
	}
	return nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (s *MemoryStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var groups []Group
	for groupID, members := range s.members {
		member, ok := members[userID]
		if !ok {
			continue
		}
		group := s.groups[groupID]
		group.Role = member.Role
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func (s *MemoryStore) AddGroupMember(ctx context.Context, member GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[member.GroupID]
	if !ok {
		return fmt.Errorf("insert group member: unknown group %s", member.GroupID)
	}
	if _, exists := members[member.UserID]; exists {
		return ErrAlreadyExists
	}
	members[member.UserID] = member
	return nil
}

func (s *MemoryStore) GetGroupMember(ctx context.Context, groupID, userID string) (GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[groupID][userID]
	if !ok {
		return GroupMember{}, sql.ErrNoRows
	}
	return member, nil
}

func (s *MemoryStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []GroupMember
	for _, member := range s.members[groupID] {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

func (s *MemoryStore) CreateProposal(ctx context.Context, proposal Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[proposal.ID]; ok {
		return ErrAlreadyExists
	}
	proposal.Status = StatusOpen
	proposal.UpdatedAt = proposal.CreatedAt
	proposal.EventRoomID = nil
	s.proposals[proposal.ID] = proposal
	return nil
}

// proposalLocked returns the proposal with its room id; s.mu must be held.
func (s *MemoryStore) proposalLocked(proposalID string) (Proposal, bool) {
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return Proposal{}, false
	}
	if roomID, ok := s.roomByProposal[proposalID]; ok {
		id := roomID
		proposal.EventRoomID = &id
	}
	return proposal, true
}

func (s *MemoryStore) countsLocked(proposalID string) VoteCounts {
	var counts VoteCounts
	for _, vote := range s.votes[proposalID] {
		counts.add(vote.Value)
	}
	return counts
}

func (s *MemoryStore) detailLocked(proposal Proposal, viewerID string) ProposalDetail {
	detail := ProposalDetail{Proposal: proposal, Counts: s.countsLocked(proposal.ID)}
	if vote, ok := s.votes[proposal.ID][viewerID]; ok {
		value := vote.Value
		detail.MyVote = &value
	}
	return detail
}

func (s *MemoryStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposalLocked(proposalID)
	if !ok {
		return Proposal{}, sql.ErrNoRows
	}
	return proposal, nil
}

func (s *MemoryStore) GetProposalDetail(ctx context.Context, proposalID, viewerID string) (ProposalDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposalLocked(proposalID)
	if !ok {
		return ProposalDetail{}, sql.ErrNoRows
	}
	return s.detailLocked(proposal, viewerID), nil
}

func (s *MemoryStore) ListGroupProposals(ctx context.Context, groupID, viewerID string) ([]ProposalDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []ProposalDetail
	for id, candidate := range s.proposals {
		if candidate.GroupID != groupID {
			continue
		}
		proposal, _ := s.proposalLocked(id)
		items = append(items, s.detailLocked(proposal, viewerID))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// closeIfExpiredLocked applies the lazy close rule; s.mu must be held.
func (s *MemoryStore) closeIfExpiredLocked(proposalID string, now time.Time) bool {
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return false
	}
	counts := s.countsLocked(proposalID)
	if NextTransition(proposal.Status, counts.YesCount, proposal.Threshold, proposal.VoteWindowEndsAt, now) != TransitionClose {
		return false
	}
	proposal.Status = StatusClosed
	proposal.UpdatedAt = now
	s.proposals[proposalID] = proposal
	return true
}

func (s *MemoryStore) CloseIfExpired(ctx context.Context, proposalID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeIfExpiredLocked(proposalID, now), nil
}

func (s *MemoryStore) CloseExpiredInGroup(ctx context.Context, groupID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, proposal := range s.proposals {
		if proposal.GroupID == groupID && s.closeIfExpiredLocked(id, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) DeleteOpenProposal(ctx context.Context, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	proposal, ok := s.proposals[proposalID]
	if !ok || proposal.Status != StatusOpen {
		return ErrProposalNotOpen
	}
	delete(s.proposals, proposalID)
	delete(s.votes, proposalID)
	return nil
}

func (s *MemoryStore) GetVote(ctx context.Context, proposalID, userID string) (*VoteValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vote, ok := s.votes[proposalID][userID]
	if !ok {
		return nil, nil
	}
	value := vote.Value
	return &value, nil
}

func (s *MemoryStore) proposalLock(proposalID string) *sync.Mutex {
	lock, ok := s.proposalLocks[proposalID]
	if !ok {
		lock = &sync.Mutex{}
		s.proposalLocks[proposalID] = lock
	}
	return lock
}

// CastVote mirrors the Postgres transaction: a pre-lock read records what the
// voter saw, then the per-proposal lock serializes the upsert, the tally and
// the open → triggered flip.
func (s *MemoryStore) CastVote(ctx context.Context, params CastVoteParams) (CastVoteResult, error) {
	if err := ctx.Err(); err != nil {
		return CastVoteResult{}, err
	}

	s.mu.Lock()
	arrived, ok := s.proposals[params.ProposalID]
	if !ok {
		s.mu.Unlock()
		return CastVoteResult{}, fmt.Errorf("read proposal: %w", sql.ErrNoRows)
	}
	if _, member := s.members[arrived.GroupID][params.UserID]; !member {
		s.mu.Unlock()
		return CastVoteResult{}, ErrNotGroupMember
	}
	if !VotingOpen(arrived.Status, arrived.VoteWindowEndsAt, params.Now) {
		s.closeIfExpiredLocked(params.ProposalID, params.Now)
		s.mu.Unlock()
		return CastVoteResult{}, ErrVotingClosed
	}
	lock := s.proposalLock(params.ProposalID)
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[params.ProposalID]
	if !ok {
		return CastVoteResult{}, fmt.Errorf("lock proposal: %w", sql.ErrNoRows)
	}
	if proposal.Status == StatusClosed {
		return CastVoteResult{}, ErrVotingClosed
	}

	votes := s.votes[proposal.ID]
	if votes == nil {
		votes = map[string]Vote{}
		s.votes[proposal.ID] = votes
	}
	previous, replaced := votes[params.UserID]
	vote := Vote{ProposalID: proposal.ID, UserID: params.UserID, Value: params.Value, CreatedAt: params.Now, UpdatedAt: params.Now}
	if replaced {
		vote.CreatedAt = previous.CreatedAt
	}
	votes[params.UserID] = vote

	counts := s.countsLocked(proposal.ID)
	result := CastVoteResult{
		ProposalID: proposal.ID,
		GroupID:    proposal.GroupID,
		Value:      params.Value,
		YesCount:   counts.YesCount,
		MaybeCount: counts.MaybeCount,
		NoCount:    counts.NoCount,
		TotalVotes: counts.TotalVotes,
		Threshold:  proposal.Threshold,
		Replaced:   replaced,
	}

	if NextTransition(proposal.Status, counts.YesCount, proposal.Threshold, proposal.VoteWindowEndsAt, params.Now) == TransitionTrigger {
		s.triggerLocked(proposal, params.Now)
		result.Materialized = true
	}

	if roomID, ok := s.roomByProposal[proposal.ID]; ok {
		id := roomID
		result.EventRoomID = &id
		result.ThresholdMet = true
	}
	return result, nil
}

func (s *MemoryStore) triggerLocked(proposal Proposal, now time.Time) {
	proposal.Status = StatusTriggered
	proposal.UpdatedAt = now
	s.proposals[proposal.ID] = proposal

	room := roomForProposal(proposal, now)
	s.rooms[room.ID] = room
	s.roomByProposal[proposal.ID] = room.ID
	participants := map[string]EventRoomParticipant{}
	for userID, vote := range s.votes[proposal.ID] {
		if vote.Value == VoteYes {
			participants[userID] = EventRoomParticipant{EventRoomID: room.ID, UserID: userID, JoinedAt: now}
		}
	}
	s.participants[room.ID] = participants
}

func (s *MemoryStore) ListPendingDecisions(ctx context.Context, userID string, now time.Time) ([]PendingDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []PendingDecision{}
	for groupID, members := range s.members {
		if _, ok := members[userID]; !ok {
			continue
		}
		for id, candidate := range s.proposals {
			if candidate.GroupID != groupID || candidate.Status != StatusOpen || !now.Before(candidate.VoteWindowEndsAt) {
				continue
			}
			if _, voted := s.votes[id][userID]; voted {
				continue
			}
			proposal, _ := s.proposalLocked(id)
			item := PendingDecision{
				Proposal:   proposal,
				GroupName:  s.groups[groupID].Name,
				VoteCounts: s.countsLocked(id),
			}
			if creator, ok := s.users[proposal.CreatedBy]; ok && !proposal.IsAnonymous {
				item.CreatedByProfile = &Profile{ID: creator.ID, DisplayName: creator.DisplayName, AvatarURL: creator.AvatarURL}
			}
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Proposal.CreatedAt.Equal(items[j].Proposal.CreatedAt) {
			return items[i].Proposal.CreatedAt.Before(items[j].Proposal.CreatedAt)
		}
		return items[i].Proposal.ID < items[j].Proposal.ID
	})
	return items, nil
}

func (s *MemoryStore) CreateDirectEventRoom(ctx context.Context, room EventRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return ErrAlreadyExists
	}
	room.ProposalID = nil
	s.rooms[room.ID] = room
	s.participants[room.ID] = map[string]EventRoomParticipant{
		room.CreatedBy: {EventRoomID: room.ID, UserID: room.CreatedBy, JoinedAt: room.CreatedAt},
	}
	return nil
}

func (s *MemoryStore) GetEventRoom(ctx context.Context, roomID string) (EventRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return EventRoom{}, sql.ErrNoRows
	}
	return room, nil
}

func (s *MemoryStore) ListEventRoomsForUser(ctx context.Context, userID string) ([]EventRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rooms []EventRoom
	for roomID, participants := range s.participants {
		if _, ok := participants[userID]; ok {
			rooms = append(rooms, s.rooms[roomID])
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, roomID string) ([]EventRoomParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var participants []EventRoomParticipant
	for _, participant := range s.participants[roomID] {
		participant.DisplayName = s.users[participant.UserID].DisplayName
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[roomID][userID]
	return ok, nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, roomID, userID string, joinedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false, fmt.Errorf("insert participant: %w", sql.ErrNoRows)
	}
	participants := s.participants[roomID]
	if participants == nil {
		participants = map[string]EventRoomParticipant{}
		s.participants[roomID] = participants
	}
	if _, ok := participants[userID]; ok {
		return false, nil
	}
	participants[userID] = EventRoomParticipant{EventRoomID: roomID, UserID: userID, JoinedAt: joinedAt}
	return true, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, message EventMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[message.EventRoomID]; !ok {
		return fmt.Errorf("insert message: %w", sql.ErrNoRows)
	}
	s.messages[message.EventRoomID] = append(s.messages[message.EventRoomID], message)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]EventMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append([]EventMessage(nil), s.messages[roomID]...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []EventMessage{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryStore) ListAllProposals(ctx context.Context) ([]Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []Proposal
	for id := range s.proposals {
		proposal, _ := s.proposalLocked(id)
		items = append(items, proposal)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// ListMessageRecords returns every message with its room's group, oldest first.
func (s *MemoryStore) ListMessageRecords(ctx context.Context) ([]MessageSearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []MessageSearchRecord
	for roomID, messages := range s.messages {
		room := s.rooms[roomID]
		for _, message := range messages {
			records = append(records, MessageSearchRecord{Message: message, GroupID: room.GroupID, RoomTitle: room.Title})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Message.CreatedAt.Before(records[j].Message.CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) CreateInvite(ctx context.Context, invite EventInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[invite.Token]; ok {
		return ErrAlreadyExists
	}
	s.invites[invite.Token] = invite
	return nil
}

func (s *MemoryStore) GetInvite(ctx context.Context, token string) (EventInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[token]
	if !ok {
		return EventInvite{}, sql.ErrNoRows
	}
	return invite, nil
}
