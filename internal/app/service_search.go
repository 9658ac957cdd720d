package app

import (
	"context"
	"fmt"
	"strings"

	"huddle/api/internal/search"
	"huddle/api/internal/store"
)

type SearchInput struct {
	Text   string
	Type   string
	Limit  int
	Offset int
}

// Search runs a full-text query over proposals and messages in the caller's
// groups.
func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return search.Response{Results: []search.Result{}}, nil
	}

	var filterType search.ResultType
	switch strings.TrimSpace(input.Type) {
	case "":
	case string(search.ResultProposal):
		filterType = search.ResultProposal
	case string(search.ResultMessage):
		filterType = search.ResultMessage
	default:
		return search.Response{}, validationError("type must be proposal or message")
	}

	groupIDs, err := s.groupIDs(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	if len(groupIDs) == 0 {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	return s.search.Search(search.Query{
		Text:       text,
		FilterType: filterType,
		GroupIDs:   groupIDs,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}), nil
}

// Reindex pushes every proposal and message into the search index.
func (s *Service) Reindex(ctx context.Context) error {
	proposals, err := s.store.ListAllProposals(ctx)
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	messages, err := s.store.ListMessageRecords(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	proposalRecords := make([]search.ProposalRecord, 0, len(proposals))
	for _, p := range proposals {
		proposalRecords = append(proposalRecords, proposalRecord(p))
	}
	messageRecords := make([]search.MessageRecord, 0, len(messages))
	for _, m := range messages {
		messageRecords = append(messageRecords, search.MessageRecord{
			ID:          m.Message.ID,
			Content:     m.Message.Content,
			EventRoomID: m.Message.EventRoomID,
			RoomTitle:   m.RoomTitle,
			GroupID:     m.GroupID,
			UserID:      m.Message.UserID,
		})
	}
	s.search.ReindexAll(proposalRecords, messageRecords)
	return nil
}

// SessionSource binds a session to the service so an in-process decision
// queue can read and vote as that user.
type SessionSource struct {
	Service *Service
	Session Session
}

func (src SessionSource) PendingDecisions(ctx context.Context) ([]store.PendingDecision, error) {
	return src.Service.GetPendingDecisions(ctx, src.Session)
}

func (src SessionSource) CastVote(ctx context.Context, proposalID string, value store.VoteValue) (store.CastVoteResult, error) {
	return src.Service.CastVote(ctx, src.Session, proposalID, string(value))
}
