package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"huddle/api/internal/email"
	"huddle/api/internal/expiry"
	"huddle/api/internal/feed"
	"huddle/api/internal/rbac"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

type CreateProposalInput struct {
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	StartsAt         *time.Time `json:"startsAt"`
	EndsAt           *time.Time `json:"endsAt"`
	VoteWindowEndsAt *time.Time `json:"voteWindowEndsAt"`
	Threshold        int        `json:"threshold"`
	IsAnonymous      bool       `json:"isAnonymous"`
	EstimatedCost    *float64   `json:"estimatedCost"`
}

func (s *Service) CreateProposal(ctx context.Context, session Session, groupID string, input CreateProposalInput) (store.ProposalDetail, error) {
	if _, err := s.requireAction(ctx, groupID, session.UserID, rbac.ActionPropose); err != nil {
		return store.ProposalDetail{}, err
	}

	now := s.now()
	if input.Threshold < 1 {
		return store.ProposalDetail{}, domainError(http.StatusUnprocessableEntity, CodeInvalidThreshold, "threshold must be at least 1", map[string]any{"threshold": input.Threshold})
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.ProposalDetail{}, validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return store.ProposalDetail{}, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	window := now.Add(s.cfg.DefaultVoteWindow)
	if input.VoteWindowEndsAt != nil {
		window = input.VoteWindowEndsAt.UTC()
	}
	if !window.After(now) {
		return store.ProposalDetail{}, validationError("voteWindowEndsAt must be in the future")
	}
	if input.StartsAt != nil && input.EndsAt != nil && input.EndsAt.Before(*input.StartsAt) {
		return store.ProposalDetail{}, validationError("endsAt must not be before startsAt")
	}
	if input.EstimatedCost != nil && *input.EstimatedCost < 0 {
		return store.ProposalDetail{}, validationError("estimatedCost must not be negative")
	}

	proposal := store.Proposal{
		ID:               util.NewID("prp"),
		GroupID:          groupID,
		CreatedBy:        session.UserID,
		Title:            title,
		Description:      trimmedOrNil(input.Description),
		StartsAt:         utcOrNil(input.StartsAt),
		EndsAt:           utcOrNil(input.EndsAt),
		VoteWindowEndsAt: window,
		Threshold:        input.Threshold,
		Status:           store.StatusOpen,
		IsAnonymous:      input.IsAnonymous,
		EstimatedCost:    input.EstimatedCost,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateProposal(ctx, proposal); err != nil {
		return store.ProposalDetail{}, transient(err)
	}

	s.publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpInsert, GroupID: groupID, ProposalID: proposal.ID, UserID: session.UserID})
	s.search.IndexProposal(proposalRecord(proposal))
	return store.ProposalDetail{Proposal: proposal}, nil
}

// GetProposal returns the proposal with its tally, closing it first when its
// window has passed without reaching the threshold.
func (s *Service) GetProposal(ctx context.Context, session Session, proposalID string) (store.ProposalDetail, error) {
	proposal, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return store.ProposalDetail{}, err
	}
	if _, err := s.requireMember(ctx, proposal.GroupID, session.UserID); err != nil {
		return store.ProposalDetail{}, err
	}

	closed, err := s.store.CloseIfExpired(ctx, proposalID, s.now())
	if err != nil {
		return store.ProposalDetail{}, transient(err)
	}
	if closed {
		s.proposalClosed(ctx, proposal)
	}

	detail, err := s.store.GetProposalDetail(ctx, proposalID, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ProposalDetail{}, proposalNotFound()
		}
		return store.ProposalDetail{}, transient(err)
	}
	redactCreator(&detail.Proposal, session.UserID)
	return detail, nil
}

func (s *Service) ListGroupProposals(ctx context.Context, session Session, groupID string) ([]store.ProposalDetail, error) {
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return nil, err
	}

	closedIDs, err := s.store.CloseExpiredInGroup(ctx, groupID, s.now())
	if err != nil {
		return nil, transient(err)
	}
	for _, id := range closedIDs {
		s.publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpUpdate, GroupID: groupID, ProposalID: id})
	}

	items, err := s.store.ListGroupProposals(ctx, groupID, session.UserID)
	if err != nil {
		return nil, transient(err)
	}
	if items == nil {
		items = []store.ProposalDetail{}
	}
	for i := range items {
		redactCreator(&items[i].Proposal, session.UserID)
	}
	return items, nil
}

// DeleteProposal removes an open proposal. Only its creator may do so.
func (s *Service) DeleteProposal(ctx context.Context, session Session, proposalID string) error {
	proposal, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.CreatedBy != session.UserID {
		return domainError(http.StatusForbidden, CodeForbidden, "Only the creator can delete a proposal", nil)
	}

	closed, err := s.store.CloseIfExpired(ctx, proposalID, s.now())
	if err != nil {
		return transient(err)
	}
	if closed {
		s.proposalClosed(ctx, proposal)
	}

	if err := s.store.DeleteOpenProposal(ctx, proposalID); err != nil {
		switch {
		case errors.Is(err, store.ErrProposalNotOpen):
			return domainError(http.StatusConflict, CodeProposalNotOpen, "Only open proposals can be deleted", nil)
		case errors.Is(err, sql.ErrNoRows):
			return proposalNotFound()
		default:
			return transient(err)
		}
	}

	s.publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpDelete, GroupID: proposal.GroupID, ProposalID: proposalID, UserID: session.UserID})
	s.search.DeleteProposal(proposalID)
	return nil
}

// CastVote records the caller's vote. The store performs the upsert, the
// recount and the materialization in one transaction; losing a race to
// trigger the proposal is not an error.
func (s *Service) CastVote(ctx context.Context, session Session, proposalID, value string) (store.CastVoteResult, error) {
	vote := store.VoteValue(strings.ToLower(strings.TrimSpace(value)))
	if !vote.Valid() {
		return store.CastVoteResult{}, validationError("value must be yes, maybe or no")
	}

	result, err := s.store.CastVote(ctx, store.CastVoteParams{
		ProposalID: proposalID,
		UserID:     session.UserID,
		Value:      vote,
		Now:        s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return store.CastVoteResult{}, proposalNotFound()
		case errors.Is(err, store.ErrNotGroupMember):
			return store.CastVoteResult{}, notGroupMember()
		case errors.Is(err, store.ErrVotingClosed):
			return store.CastVoteResult{}, domainError(http.StatusConflict, CodeVotingClosed, "Voting on this proposal is closed", nil)
		default:
			return store.CastVoteResult{}, transient(err)
		}
	}

	op := feed.OpInsert
	if result.Replaced {
		op = feed.OpUpdate
	}
	s.publish(ctx, feed.Change{Table: feed.TableVotes, Op: op, GroupID: result.GroupID, ProposalID: proposalID, UserID: session.UserID})

	if result.Materialized && result.EventRoomID != nil {
		s.publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpUpdate, GroupID: result.GroupID, ProposalID: proposalID})
		s.publish(ctx, feed.Change{Table: feed.TableEventRooms, Op: feed.OpInsert, GroupID: result.GroupID, ProposalID: proposalID, EventRoomID: *result.EventRoomID})
		if proposal, err := s.store.GetProposal(ctx, proposalID); err == nil {
			s.search.IndexProposal(proposalRecord(proposal))
		}
		if s.mail != nil && s.mail.IsConfigured() {
			go s.notifyMaterialized(*result.EventRoomID, result)
		}
	}
	return result, nil
}

// GetPendingDecisions lists open proposals in the caller's groups that they
// have not voted on yet, oldest first.
func (s *Service) GetPendingDecisions(ctx context.Context, session Session) ([]store.PendingDecision, error) {
	items, err := s.store.ListPendingDecisions(ctx, session.UserID, s.now())
	if err != nil {
		return nil, transient(err)
	}
	if items == nil {
		items = []store.PendingDecision{}
	}
	for i := range items {
		redactCreator(&items[i].Proposal, session.UserID)
	}
	return items, nil
}

func (s *Service) loadProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Proposal{}, proposalNotFound()
		}
		return store.Proposal{}, transient(err)
	}
	return proposal, nil
}

func (s *Service) proposalClosed(ctx context.Context, proposal store.Proposal) {
	s.publish(ctx, feed.Change{Table: feed.TableProposals, Op: feed.OpUpdate, GroupID: proposal.GroupID, ProposalID: proposal.ID})
	proposal.Status = store.StatusClosed
	s.search.IndexProposal(proposalRecord(proposal))
}

func (s *Service) notifyMaterialized(roomID string, result store.CastVoteResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	room, err := s.store.GetEventRoom(ctx, roomID)
	if err != nil {
		log.Printf("email: load room %s: %v", roomID, err)
		return
	}
	group, err := s.store.GetGroup(ctx, room.GroupID)
	if err != nil {
		log.Printf("email: load group %s: %v", room.GroupID, err)
		return
	}
	recipients, err := s.participantEmails(ctx, roomID)
	if err != nil {
		log.Printf("email: load participants %s: %v", roomID, err)
		return
	}

	err = s.mail.SendEventReady(recipients, email.EventReadyData{
		GroupName: group.Name,
		Title:     room.Title,
		StartsAt:  room.StartsAt,
		RoomURL:   s.roomURL(roomID),
		YesCount:  result.YesCount,
		Threshold: result.Threshold,
		ExpiresAt: expiry.ExpiresAt(room.EndsAt, room.CreatedAt),
	})
	if err != nil {
		log.Printf("email: event ready %s: %v", roomID, err)
	}
}

func (s *Service) participantEmails(ctx context.Context, roomID string) ([]string, error) {
	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	users, err := s.store.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(users))
	for _, user := range users {
		if user.Email != "" {
			emails = append(emails, user.Email)
		}
	}
	return emails, nil
}

func (s *Service) roomURL(roomID string) string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + "/rooms/" + roomID
}

// redactCreator hides who proposed an anonymous proposal from everyone but
// the creator. The row itself keeps created_by.
func redactCreator(p *store.Proposal, viewerID string) {
	if p.IsAnonymous && p.CreatedBy != viewerID {
		p.CreatedBy = ""
	}
}

func proposalRecord(p store.Proposal) search.ProposalRecord {
	record := search.ProposalRecord{
		ID:      p.ID,
		Title:   p.Title,
		GroupID: p.GroupID,
		Status:  string(p.Status),
	}
	if p.Description != nil {
		record.Description = *p.Description
	}
	return record
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func utcOrNil(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
