package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"huddle/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const proposalColumns = `
	p.id, p.group_id, p.created_by, p.title, p.description, p.starts_at, p.ends_at,
	p.vote_window_ends_at, p.threshold, p.status, p.is_anonymous, p.estimated_cost::float8,
	p.created_at, p.updated_at, er.id`

const voteCountsLateral = `
	LEFT JOIN LATERAL (
		SELECT
			COUNT(*) FILTER (WHERE v.value = 'yes') AS yes_count,
			COUNT(*) FILTER (WHERE v.value = 'maybe') AS maybe_count,
			COUNT(*) FILTER (WHERE v.value = 'no') AS no_count,
			COUNT(*) AS total_votes
		FROM votes v
		WHERE v.proposal_id = p.id
	) c ON TRUE`

func scanProposal(row rowScanner, extra ...any) (Proposal, error) {
	var item Proposal
	dest := []any{
		&item.ID, &item.GroupID, &item.CreatedBy, &item.Title, &item.Description, &item.StartsAt, &item.EndsAt,
		&item.VoteWindowEndsAt, &item.Threshold, &item.Status, &item.IsAnonymous, &item.EstimatedCost,
		&item.CreatedAt, &item.UpdatedAt, &item.EventRoomID,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Proposal{}, err
	}
	return item, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const upsert = `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.huddle.dev'))
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, email, avatar_url, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, upsert, util.NewID("usr"), name).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, avatar_url, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, avatar_url, created_at
		FROM users
		WHERE id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY display_name
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.AvatarURL, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Groups

func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`, group.ID, group.Name, group.CreatedBy, group.CreatedAt); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, 'owner', $3)
	`, group.ID, group.CreatedBy, group.CreatedAt); err != nil {
		return fmt.Errorf("insert group owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM groups WHERE id=$1`, groupID).
		Scan(&group.ID, &group.Name, &group.CreatedBy, &group.CreatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_by, g.created_at, gm.role
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.name, g.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedBy, &group.CreatedAt, &group.Role); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) AddGroupMember(ctx context.Context, member GroupMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, member.GroupID, member.UserID, member.Role, member.JoinedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroupMember(ctx context.Context, groupID, userID string) (GroupMember, error) {
	var member GroupMember
	err := s.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id=$1 AND user_id=$2
	`, groupID, userID).Scan(&member.GroupID, &member.UserID, &member.Role, &member.JoinedAt)
	if err != nil {
		return GroupMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id=$1 ORDER BY joined_at, user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var member GroupMember
		if err := rows.Scan(&member.GroupID, &member.UserID, &member.Role, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// Proposals

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (
			id, group_id, created_by, title, description, starts_at, ends_at,
			vote_window_ends_at, threshold, status, is_anonymous, estimated_cost, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open', $10, $11, $12, $12)
	`,
		proposal.ID, proposal.GroupID, proposal.CreatedBy, proposal.Title, proposal.Description,
		proposal.StartsAt, proposal.EndsAt, proposal.VoteWindowEndsAt, proposal.Threshold,
		proposal.IsAnonymous, proposal.EstimatedCost, proposal.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		WHERE p.id = $1
	`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) GetProposalDetail(ctx context.Context, proposalID, viewerID string) (ProposalDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`, c.yes_count, c.maybe_count, c.no_count, c.total_votes, mv.value
		FROM proposals p
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		`+voteCountsLateral+`
		LEFT JOIN votes mv ON mv.proposal_id = p.id AND mv.user_id = $2
		WHERE p.id = $1
	`, proposalID, viewerID)
	var detail ProposalDetail
	proposal, err := scanProposal(row,
		&detail.Counts.YesCount, &detail.Counts.MaybeCount, &detail.Counts.NoCount, &detail.Counts.TotalVotes, &detail.MyVote)
	if err != nil {
		return ProposalDetail{}, err
	}
	detail.Proposal = proposal
	return detail, nil
}

func (s *PostgresStore) ListGroupProposals(ctx context.Context, groupID, viewerID string) ([]ProposalDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`, c.yes_count, c.maybe_count, c.no_count, c.total_votes, mv.value
		FROM proposals p
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		`+voteCountsLateral+`
		LEFT JOIN votes mv ON mv.proposal_id = p.id AND mv.user_id = $2
		WHERE p.group_id = $1
		ORDER BY p.created_at DESC, p.id
	`, groupID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list group proposals: %w", err)
	}
	defer rows.Close()

	var items []ProposalDetail
	for rows.Next() {
		var detail ProposalDetail
		proposal, err := scanProposal(rows,
			&detail.Counts.YesCount, &detail.Counts.MaybeCount, &detail.Counts.NoCount, &detail.Counts.TotalVotes, &detail.MyVote)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		detail.Proposal = proposal
		items = append(items, detail)
	}
	return items, rows.Err()
}

// CloseIfExpired closes an open proposal whose window has passed without
// reaching its threshold. It reports whether this call closed it.
func (s *PostgresStore) CloseIfExpired(ctx context.Context, proposalID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals p SET status = 'closed', updated_at = $2
		WHERE p.id = $1
			AND p.status = 'open'
			AND p.vote_window_ends_at <= $2
			AND (SELECT COUNT(*) FROM votes v WHERE v.proposal_id = p.id AND v.value = 'yes') < p.threshold
	`, proposalID, now)
	if err != nil {
		return false, fmt.Errorf("close proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close proposal rows: %w", err)
	}
	return affected == 1, nil
}

// CloseExpiredInGroup is the group-wide form of CloseIfExpired and returns
// the ids it closed.
func (s *PostgresStore) CloseExpiredInGroup(ctx context.Context, groupID string, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE proposals p SET status = 'closed', updated_at = $2
		WHERE p.group_id = $1
			AND p.status = 'open'
			AND p.vote_window_ends_at <= $2
			AND (SELECT COUNT(*) FROM votes v WHERE v.proposal_id = p.id AND v.value = 'yes') < p.threshold
		RETURNING p.id
	`, groupID, now)
	if err != nil {
		return nil, fmt.Errorf("close expired proposals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan closed proposal: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) DeleteOpenProposal(ctx context.Context, proposalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1 AND status='open'`, proposalID)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete proposal rows: %w", err)
	}
	if affected == 0 {
		return ErrProposalNotOpen
	}
	return nil
}

func (s *PostgresStore) GetVote(ctx context.Context, proposalID, userID string) (*VoteValue, error) {
	var value VoteValue
	err := s.db.QueryRowContext(ctx, `SELECT value FROM votes WHERE proposal_id=$1 AND user_id=$2`, proposalID, userID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vote: %w", err)
	}
	return &value, nil
}

// CastVote records the caller's vote and applies the materialization rule in
// the same transaction. The proposal row lock serializes voters on one
// proposal; the status CAS decides which of them creates the event room.
func (s *PostgresStore) CastVote(ctx context.Context, params CastVoteParams) (CastVoteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CastVoteResult{}, fmt.Errorf("begin cast vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The pre-lock read fixes what the voter saw when the vote arrived.
	var (
		groupID      string
		arrivedState ProposalStatus
		windowEndsAt time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT group_id, status, vote_window_ends_at FROM proposals WHERE id=$1`, params.ProposalID).
		Scan(&groupID, &arrivedState, &windowEndsAt)
	if err != nil {
		return CastVoteResult{}, fmt.Errorf("read proposal: %w", err)
	}

	var member bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)
	`, groupID, params.UserID).Scan(&member); err != nil {
		return CastVoteResult{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return CastVoteResult{}, ErrNotGroupMember
	}

	if !VotingOpen(arrivedState, windowEndsAt, params.Now) {
		if arrivedState == StatusOpen {
			_ = tx.Rollback()
			if _, err := s.CloseIfExpired(ctx, params.ProposalID, params.Now); err != nil {
				return CastVoteResult{}, err
			}
		}
		return CastVoteResult{}, ErrVotingClosed
	}

	proposal, err := scanProposal(tx.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		WHERE p.id = $1
		FOR UPDATE OF p
	`, params.ProposalID))
	if err != nil {
		return CastVoteResult{}, fmt.Errorf("lock proposal: %w", err)
	}
	if proposal.Status == StatusClosed {
		return CastVoteResult{}, ErrVotingClosed
	}

	var replaced bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM votes WHERE proposal_id=$1 AND user_id=$2)
	`, params.ProposalID, params.UserID).Scan(&replaced); err != nil {
		return CastVoteResult{}, fmt.Errorf("check existing vote: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO votes (proposal_id, user_id, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (proposal_id, user_id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, params.ProposalID, params.UserID, params.Value, params.Now); err != nil {
		return CastVoteResult{}, fmt.Errorf("upsert vote: %w", err)
	}

	var counts VoteCounts
	if err := tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE value = 'yes'),
			COUNT(*) FILTER (WHERE value = 'maybe'),
			COUNT(*) FILTER (WHERE value = 'no'),
			COUNT(*)
		FROM votes WHERE proposal_id = $1
	`, params.ProposalID).Scan(&counts.YesCount, &counts.MaybeCount, &counts.NoCount, &counts.TotalVotes); err != nil {
		return CastVoteResult{}, fmt.Errorf("count votes: %w", err)
	}

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
		won, err := s.triggerTx(ctx, tx, proposal, params.Now)
		if err != nil {
			return CastVoteResult{}, err
		}
		result.Materialized = won
	}

	roomID, err := eventRoomIDForProposal(ctx, tx, proposal.ID)
	if err != nil {
		return CastVoteResult{}, err
	}
	result.EventRoomID = roomID
	result.ThresholdMet = roomID != nil

	if err := tx.Commit(); err != nil {
		return CastVoteResult{}, fmt.Errorf("commit cast vote: %w", err)
	}
	return result, nil
}

// triggerTx flips open → triggered and, if this transaction won the flip,
// creates the event room with every current YES voter as a participant.
func (s *PostgresStore) triggerTx(ctx context.Context, tx *sql.Tx, proposal Proposal, now time.Time) (bool, error) {
	flipped, err := tx.ExecContext(ctx, `
		UPDATE proposals SET status = 'triggered', updated_at = $2 WHERE id = $1 AND status = 'open'
	`, proposal.ID, now)
	if err != nil {
		return false, fmt.Errorf("trigger proposal: %w", err)
	}
	affected, err := flipped.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("trigger proposal rows: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	room := roomForProposal(proposal, now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_rooms (id, proposal_id, group_id, title, description, starts_at, ends_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, room.ID, room.ProposalID, room.GroupID, room.Title, room.Description, room.StartsAt, room.EndsAt, room.CreatedBy, room.CreatedAt); err != nil {
		return false, fmt.Errorf("insert event room: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_room_participants (event_room_id, user_id, joined_at)
		SELECT $1, user_id, $2 FROM votes WHERE proposal_id = $3 AND value = 'yes'
		ON CONFLICT (event_room_id, user_id) DO NOTHING
	`, room.ID, now, proposal.ID); err != nil {
		return false, fmt.Errorf("insert event participants: %w", err)
	}
	return true, nil
}

func eventRoomIDForProposal(ctx context.Context, tx *sql.Tx, proposalID string) (*string, error) {
	var roomID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM event_rooms WHERE proposal_id=$1`, proposalID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event room id: %w", err)
	}
	return &roomID, nil
}

// ListPendingDecisions reads, in one statement, every open proposal in the
// user's groups that is still inside its window and has no vote from the user.
func (s *PostgresStore) ListPendingDecisions(ctx context.Context, userID string, now time.Time) ([]PendingDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`,
			g.name, c.yes_count, c.maybe_count, c.no_count, c.total_votes,
			u.id, u.display_name, u.avatar_url
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		JOIN proposals p ON p.group_id = gm.group_id
		JOIN users u ON u.id = p.created_by
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		`+voteCountsLateral+`
		WHERE gm.user_id = $1
			AND p.status = 'open'
			AND p.vote_window_ends_at > $2
			AND NOT EXISTS (SELECT 1 FROM votes mv WHERE mv.proposal_id = p.id AND mv.user_id = $1)
		ORDER BY p.created_at, p.id
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list pending decisions: %w", err)
	}
	defer rows.Close()

	items := []PendingDecision{}
	for rows.Next() {
		var (
			item    PendingDecision
			profile Profile
		)
		proposal, err := scanProposal(rows,
			&item.GroupName, &item.VoteCounts.YesCount, &item.VoteCounts.MaybeCount, &item.VoteCounts.NoCount, &item.VoteCounts.TotalVotes,
			&profile.ID, &profile.DisplayName, &profile.AvatarURL)
		if err != nil {
			return nil, fmt.Errorf("scan pending decision: %w", err)
		}
		item.Proposal = proposal
		if !proposal.IsAnonymous {
			item.CreatedByProfile = &profile
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Event rooms

const eventRoomColumns = `id, proposal_id, group_id, title, description, starts_at, ends_at, created_by, created_at`

func scanEventRoom(row rowScanner) (EventRoom, error) {
	var room EventRoom
	err := row.Scan(&room.ID, &room.ProposalID, &room.GroupID, &room.Title, &room.Description,
		&room.StartsAt, &room.EndsAt, &room.CreatedBy, &room.CreatedAt)
	return room, err
}

// CreateDirectEventRoom inserts a room without a proposal and makes its
// creator the only participant.
func (s *PostgresStore) CreateDirectEventRoom(ctx context.Context, room EventRoom) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create event room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_rooms (id, proposal_id, group_id, title, description, starts_at, ends_at, created_by, created_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, $8)
	`, room.ID, room.GroupID, room.Title, room.Description, room.StartsAt, room.EndsAt, room.CreatedBy, room.CreatedAt); err != nil {
		return fmt.Errorf("insert event room: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_room_participants (event_room_id, user_id, joined_at) VALUES ($1, $2, $3)
	`, room.ID, room.CreatedBy, room.CreatedAt); err != nil {
		return fmt.Errorf("insert event room creator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create event room: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEventRoom(ctx context.Context, roomID string) (EventRoom, error) {
	return scanEventRoom(s.db.QueryRowContext(ctx, `SELECT `+eventRoomColumns+` FROM event_rooms WHERE id=$1`, roomID))
}

func (s *PostgresStore) ListEventRoomsForUser(ctx context.Context, userID string) ([]EventRoom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventRoomColumns+`
		FROM event_rooms
		WHERE id IN (SELECT event_room_id FROM event_room_participants WHERE user_id = $1)
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list event rooms: %w", err)
	}
	defer rows.Close()

	var rooms []EventRoom
	for rows.Next() {
		room, err := scanEventRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *PostgresStore) ListParticipants(ctx context.Context, roomID string) ([]EventRoomParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT erp.event_room_id, erp.user_id, u.display_name, erp.joined_at
		FROM event_room_participants erp
		JOIN users u ON u.id = erp.user_id
		WHERE erp.event_room_id = $1
		ORDER BY erp.joined_at, erp.user_id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []EventRoomParticipant
	for rows.Next() {
		var participant EventRoomParticipant
		if err := rows.Scan(&participant.EventRoomID, &participant.UserID, &participant.DisplayName, &participant.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, participant)
	}
	return participants, rows.Err()
}

func (s *PostgresStore) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM event_room_participants WHERE event_room_id=$1 AND user_id=$2)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// AddParticipant is idempotent and reports whether a row was inserted.
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID, userID string, joinedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO event_room_participants (event_room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_room_id, user_id) DO NOTHING
	`, roomID, userID, joinedAt)
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert participant rows: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, message EventMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_messages (id, event_room_id, user_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, message.ID, message.EventRoomID, message.UserID, message.Content, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]EventMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_room_id, user_id, content, created_at
		FROM event_messages
		WHERE event_room_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []EventMessage{}
	for rows.Next() {
		var message EventMessage
		if err := rows.Scan(&message.ID, &message.EventRoomID, &message.UserID, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) CreateInvite(ctx context.Context, invite EventInvite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_invites (token, event_room_id, created_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, invite.Token, invite.EventRoomID, invite.CreatedBy, invite.ExpiresAt, invite.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, token string) (EventInvite, error) {
	var invite EventInvite
	err := s.db.QueryRowContext(ctx, `
		SELECT token, event_room_id, created_by, expires_at, created_at FROM event_invites WHERE token=$1
	`, token).Scan(&invite.Token, &invite.EventRoomID, &invite.CreatedBy, &invite.ExpiresAt, &invite.CreatedAt)
	if err != nil {
		return EventInvite{}, err
	}
	return invite, nil
}

// Search index rebuild

func (s *PostgresStore) ListAllProposals(ctx context.Context) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals p
		LEFT JOIN event_rooms er ON er.proposal_id = p.id
		ORDER BY p.created_at, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var items []Proposal
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListMessageRecords(ctx context.Context) ([]MessageSearchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.event_room_id, m.user_id, m.content, m.created_at, r.group_id, r.title
		FROM event_messages m
		JOIN event_rooms r ON r.id = m.event_room_id
		ORDER BY m.created_at, m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list message records: %w", err)
	}
	defer rows.Close()

	var records []MessageSearchRecord
	for rows.Next() {
		var record MessageSearchRecord
		if err := rows.Scan(&record.Message.ID, &record.Message.EventRoomID, &record.Message.UserID,
			&record.Message.Content, &record.Message.CreatedAt, &record.GroupID, &record.RoomTitle); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
