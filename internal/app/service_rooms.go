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

	"golang.org/x/sync/errgroup"

	"huddle/api/internal/email"
	"huddle/api/internal/expiry"
	"huddle/api/internal/export"
	"huddle/api/internal/feed"
	"huddle/api/internal/rbac"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	maxMessageLength    = 4000
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type EventRoomDetail struct {
	store.EventRoom
	ExpiresAt     time.Time                    `json:"expiresAt"`
	TimeRemaining expiry.Remaining             `json:"timeRemaining"`
	Participants  []store.EventRoomParticipant `json:"participants"`
	IsParticipant bool                         `json:"isParticipant"`
}

type MessagePage struct {
	Messages  []store.EventMessage `json:"messages"`
	IsExpired bool                 `json:"isExpired"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

type CreateDirectEventInput struct {
	GroupID     string     `json:"groupId"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
}

type CreateInviteInput struct {
	Email string `json:"email"`
}

type InviteView struct {
	store.EventInvite
	JoinURL string `json:"joinUrl"`
}

type JoinResult struct {
	Room   store.EventRoom `json:"eventRoom"`
	Joined bool            `json:"joined"`
}

func (s *Service) loadRoom(ctx context.Context, roomID string) (store.EventRoom, error) {
	room, err := s.store.GetEventRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EventRoom{}, roomNotFound()
		}
		return store.EventRoom{}, transient(err)
	}
	return room, nil
}

// roomAccess lets participants and members of the room's group read a room.
func (s *Service) roomAccess(ctx context.Context, session Session, roomID string) (store.EventRoom, bool, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return store.EventRoom{}, false, err
	}
	participant, err := s.store.IsParticipant(ctx, roomID, session.UserID)
	if err != nil {
		return store.EventRoom{}, false, transient(err)
	}
	if participant {
		return room, true, nil
	}
	if _, err := s.store.GetGroupMember(ctx, room.GroupID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.EventRoom{}, false, notParticipant()
		}
		return store.EventRoom{}, false, transient(err)
	}
	return room, false, nil
}

// autoAdmit adds the user to a proposal room when they are still a member of
// its group and their current vote on the proposal is YES.
func (s *Service) autoAdmit(ctx context.Context, room store.EventRoom, userID string) (bool, error) {
	if room.ProposalID == nil {
		return false, nil
	}
	if _, err := s.store.GetGroupMember(ctx, room.GroupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	vote, err := s.store.GetVote(ctx, *room.ProposalID, userID)
	if err != nil {
		return false, err
	}
	if vote == nil || *vote != store.VoteYes {
		return false, nil
	}
	return s.addParticipant(ctx, room, userID)
}

func (s *Service) addParticipant(ctx context.Context, room store.EventRoom, userID string) (bool, error) {
	inserted, err := s.store.AddParticipant(ctx, room.ID, userID, s.now())
	if err != nil {
		return false, err
	}
	if inserted {
		s.publish(ctx, feed.Change{Table: feed.TableParticipants, Op: feed.OpInsert, GroupID: room.GroupID, EventRoomID: room.ID, UserID: userID})
	}
	return true, nil
}

func (s *Service) CreateDirectEvent(ctx context.Context, session Session, input CreateDirectEventInput) (store.EventRoom, error) {
	groupID := strings.TrimSpace(input.GroupID)
	if groupID == "" {
		return store.EventRoom{}, validationError("groupId is required")
	}
	if _, err := s.requireAction(ctx, groupID, session.UserID, rbac.ActionCreateEvent); err != nil {
		return store.EventRoom{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.EventRoom{}, validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return store.EventRoom{}, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if input.StartsAt != nil && input.EndsAt != nil && input.EndsAt.Before(*input.StartsAt) {
		return store.EventRoom{}, validationError("endsAt must not be before startsAt")
	}

	room := store.EventRoom{
		ID:          util.NewID("room"),
		GroupID:     groupID,
		Title:       title,
		Description: trimmedOrNil(input.Description),
		StartsAt:    utcOrNil(input.StartsAt),
		EndsAt:      utcOrNil(input.EndsAt),
		CreatedBy:   session.UserID,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateDirectEventRoom(ctx, room); err != nil {
		return store.EventRoom{}, transient(err)
	}
	s.publish(ctx, feed.Change{Table: feed.TableEventRooms, Op: feed.OpInsert, GroupID: groupID, EventRoomID: room.ID, UserID: session.UserID})
	return room, nil
}

func (s *Service) ListEventRooms(ctx context.Context, session Session) ([]store.EventRoom, error) {
	rooms, err := s.store.ListEventRoomsForUser(ctx, session.UserID)
	if err != nil {
		return nil, transient(err)
	}
	if rooms == nil {
		rooms = []store.EventRoom{}
	}
	return rooms, nil
}

func (s *Service) GetEventRoomByID(ctx context.Context, session Session, roomID string) (EventRoomDetail, error) {
	room, participant, err := s.roomAccess(ctx, session, roomID)
	if err != nil {
		return EventRoomDetail{}, err
	}

	detail := EventRoomDetail{
		EventRoom:     room,
		ExpiresAt:     expiry.ExpiresAt(room.EndsAt, room.CreatedAt),
		TimeRemaining: expiry.TimeRemaining(room.EndsAt, room.CreatedAt, s.now()),
		IsParticipant: participant,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		participants, err := s.store.ListParticipants(gctx, roomID)
		if err != nil {
			return err
		}
		detail.Participants = participants
		return nil
	})
	if !participant {
		g.Go(func() error {
			// A YES voter who has not been admitted yet sees the room as theirs.
			if room.ProposalID == nil {
				return nil
			}
			vote, err := s.store.GetVote(gctx, *room.ProposalID, session.UserID)
			if err != nil {
				return err
			}
			detail.IsParticipant = vote != nil && *vote == store.VoteYes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EventRoomDetail{}, transient(err)
	}
	if detail.Participants == nil {
		detail.Participants = []store.EventRoomParticipant{}
	}
	return detail, nil
}

func (s *Service) GetEventRoomTimeRemaining(ctx context.Context, session Session, roomID string) (expiry.Remaining, error) {
	room, _, err := s.roomAccess(ctx, session, roomID)
	if err != nil {
		return expiry.Remaining{}, err
	}
	return expiry.TimeRemaining(room.EndsAt, room.CreatedAt, s.now()), nil
}

func (s *Service) ListEventRoomParticipants(ctx context.Context, session Session, roomID string) ([]store.EventRoomParticipant, error) {
	if _, _, err := s.roomAccess(ctx, session, roomID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, transient(err)
	}
	if participants == nil {
		participants = []store.EventRoomParticipant{}
	}
	return participants, nil
}

// SendEventMessage appends a message. Expiry is evaluated against the clock
// at write time, so a room that expired while a client held it open rejects
// the write.
func (s *Service) SendEventMessage(ctx context.Context, session Session, roomID, content string) (store.EventMessage, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return store.EventMessage{}, err
	}
	now := s.now()
	if expiry.IsExpired(room.EndsAt, room.CreatedAt, now) {
		return store.EventMessage{}, roomExpired()
	}

	participant, err := s.store.IsParticipant(ctx, roomID, session.UserID)
	if err != nil {
		return store.EventMessage{}, transient(err)
	}
	if !participant {
		admitted, err := s.autoAdmit(ctx, room, session.UserID)
		if err != nil {
			return store.EventMessage{}, transient(err)
		}
		if !admitted {
			return store.EventMessage{}, notParticipant()
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return store.EventMessage{}, validationError("content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return store.EventMessage{}, validationError(fmt.Sprintf("content must be at most %d characters", maxMessageLength))
	}

	message := store.EventMessage{
		ID:          util.NewID("msg"),
		EventRoomID: roomID,
		UserID:      session.UserID,
		Content:     content,
		CreatedAt:   now,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return store.EventMessage{}, transient(err)
	}

	s.publish(ctx, feed.Change{Table: feed.TableMessages, Op: feed.OpInsert, GroupID: room.GroupID, EventRoomID: roomID, UserID: session.UserID})
	s.search.IndexMessage(search.MessageRecord{
		ID:          message.ID,
		Content:     message.Content,
		EventRoomID: roomID,
		RoomTitle:   room.Title,
		GroupID:     room.GroupID,
		UserID:      session.UserID,
	})
	return message, nil
}

func (s *Service) GetEventRoomMessages(ctx context.Context, session Session, roomID string, limit, offset int) (MessagePage, error) {
	room, _, err := s.roomAccess(ctx, session, roomID)
	if err != nil {
		return MessagePage{}, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.store.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		return MessagePage{}, transient(err)
	}
	if messages == nil {
		messages = []store.EventMessage{}
	}
	return MessagePage{
		Messages:  messages,
		IsExpired: expiry.IsExpired(room.EndsAt, room.CreatedAt, s.now()),
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// JoinEventRoom admits group members to direct rooms, and YES voters to
// proposal rooms. Joining twice is a no-op.
func (s *Service) JoinEventRoom(ctx context.Context, session Session, roomID string) (JoinResult, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}
	if expiry.IsExpired(room.EndsAt, room.CreatedAt, s.now()) {
		return JoinResult{}, roomExpired()
	}

	participant, err := s.store.IsParticipant(ctx, roomID, session.UserID)
	if err != nil {
		return JoinResult{}, transient(err)
	}
	if participant {
		return JoinResult{Room: room, Joined: true}, nil
	}

	var joined bool
	if room.ProposalID == nil {
		if _, err := s.requireMember(ctx, room.GroupID, session.UserID); err != nil {
			return JoinResult{}, err
		}
		joined, err = s.addParticipant(ctx, room, session.UserID)
	} else {
		joined, err = s.autoAdmit(ctx, room, session.UserID)
	}
	if err != nil {
		return JoinResult{}, transient(err)
	}
	if !joined {
		return JoinResult{}, notParticipant()
	}
	return JoinResult{Room: room, Joined: true}, nil
}

func (s *Service) CreateEventInvite(ctx context.Context, session Session, roomID string, input CreateInviteInput) (InviteView, error) {
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return InviteView{}, err
	}
	now := s.now()
	if expiry.IsExpired(room.EndsAt, room.CreatedAt, now) {
		return InviteView{}, roomExpired()
	}
	participant, err := s.store.IsParticipant(ctx, roomID, session.UserID)
	if err != nil {
		return InviteView{}, transient(err)
	}
	if !participant {
		return InviteView{}, notParticipant()
	}

	invite := store.EventInvite{
		Token:       util.NewToken(),
		EventRoomID: roomID,
		CreatedBy:   session.UserID,
		ExpiresAt:   expiry.ExpiresAt(room.EndsAt, room.CreatedAt),
		CreatedAt:   now,
	}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		return InviteView{}, transient(err)
	}

	view := InviteView{EventInvite: invite, JoinURL: strings.TrimRight(s.cfg.AppBaseURL, "/") + "/invites/" + invite.Token}
	if to := strings.TrimSpace(input.Email); to != "" && s.mail != nil && s.mail.IsConfigured() {
		data := email.InviteData{
			InviterName: session.UserName,
			Title:       room.Title,
			JoinURL:     view.JoinURL,
			ExpiresAt:   invite.ExpiresAt,
		}
		go func() {
			if err := s.mail.SendInvite(to, data); err != nil {
				log.Printf("email: invite for %s: %v", roomID, err)
			}
		}()
	}
	return view, nil
}

func (s *Service) JoinEventRoomByInvite(ctx context.Context, session Session, token string) (JoinResult, error) {
	invite, err := s.store.GetInvite(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JoinResult{}, domainError(http.StatusNotFound, CodeNotFound, "Invite not found", nil)
		}
		return JoinResult{}, transient(err)
	}
	now := s.now()
	if !now.Before(invite.ExpiresAt) {
		return JoinResult{}, roomExpired()
	}
	room, err := s.loadRoom(ctx, invite.EventRoomID)
	if err != nil {
		return JoinResult{}, err
	}
	if expiry.IsExpired(room.EndsAt, room.CreatedAt, now) {
		return JoinResult{}, roomExpired()
	}
	if _, err := s.addParticipant(ctx, room, session.UserID); err != nil {
		return JoinResult{}, transient(err)
	}
	return JoinResult{Room: room, Joined: true}, nil
}

// ExportEventRoom renders the whole transcript.
func (s *Service) ExportEventRoom(ctx context.Context, session Session, roomID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, validationError("format must be html or pdf")
	}
	room, _, err := s.roomAccess(ctx, session, roomID)
	if err != nil {
		return nil, err
	}
	transcript, err := s.buildTranscript(ctx, room)
	if err != nil {
		return nil, transient(err)
	}

	result, err := s.exporter.Export(ctx, transcript, parsed)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			e := domainError(http.StatusServiceUnavailable, CodeExportUnavailable, "PDF export is not available on this server", nil)
			e.Err = err
			return nil, e
		}
		return nil, fmt.Errorf("export room %s: %w", roomID, err)
	}
	return result, nil
}

// ArchiveEventRoom exports the transcript and stores it in object storage.
func (s *Service) ArchiveEventRoom(ctx context.Context, session Session, roomID, format string) (export.Archived, error) {
	if s.archive == nil {
		return export.Archived{}, domainError(http.StatusServiceUnavailable, CodeExportUnavailable, "Transcript archive is not configured", nil)
	}
	result, err := s.ExportEventRoom(ctx, session, roomID, format)
	if err != nil {
		return export.Archived{}, err
	}
	archived, err := s.archive.Put(ctx, roomID, result, s.now())
	if err != nil {
		return export.Archived{}, transient(err)
	}
	return archived, nil
}

func (s *Service) buildTranscript(ctx context.Context, room store.EventRoom) (export.Transcript, error) {
	now := s.now()
	transcript := export.Transcript{
		RoomID:      room.ID,
		Title:       room.Title,
		StartsAt:    room.StartsAt,
		EndsAt:      room.EndsAt,
		ExpiresAt:   expiry.ExpiresAt(room.EndsAt, room.CreatedAt),
		Expired:     expiry.IsExpired(room.EndsAt, room.CreatedAt, now),
		GeneratedAt: now,
	}
	if room.Description != nil {
		transcript.Description = *room.Description
	}

	group, err := s.store.GetGroup(ctx, room.GroupID)
	if err != nil {
		return export.Transcript{}, err
	}
	transcript.GroupName = group.Name

	participants, err := s.store.ListParticipants(ctx, room.ID)
	if err != nil {
		return export.Transcript{}, err
	}
	for _, p := range participants {
		transcript.Participants = append(transcript.Participants, p.DisplayName)
	}

	var messages []store.EventMessage
	for offset := 0; ; offset += maxMessageLimit {
		page, err := s.store.ListMessages(ctx, room.ID, maxMessageLimit, offset)
		if err != nil {
			return export.Transcript{}, err
		}
		messages = append(messages, page...)
		if len(page) < maxMessageLimit {
			break
		}
	}

	authorIDs := make([]string, 0)
	seen := map[string]struct{}{}
	for _, m := range messages {
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			authorIDs = append(authorIDs, m.UserID)
		}
	}
	users, err := s.store.ListUsersByIDs(ctx, authorIDs)
	if err != nil {
		return export.Transcript{}, err
	}
	names := make(map[string]string, len(users))
	for _, user := range users {
		names[user.ID] = user.DisplayName
	}

	for _, m := range messages {
		author := names[m.UserID]
		if author == "" {
			author = "Unknown"
		}
		transcript.Messages = append(transcript.Messages, export.Line{Author: author, Content: m.Content, At: m.CreatedAt})
	}
	return transcript, nil
}
