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

	"huddle/api/internal/auth"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/export"
	"huddle/api/internal/feed"
	"huddle/api/internal/rbac"
	"huddle/api/internal/search"
	"huddle/api/internal/store"
	"huddle/api/internal/util"
)

const (
	maxTitleLength     = 200
	maxGroupNameLength = 100
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// Store is the persistence contract shared by the Postgres and memory stores.
type Store interface {
	Ping(ctx context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByIDs(context.Context, []string) ([]store.User, error)
	CreateGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	ListGroupsForUser(context.Context, string) ([]store.Group, error)
	AddGroupMember(context.Context, store.GroupMember) error
	GetGroupMember(context.Context, string, string) (store.GroupMember, error)
	ListGroupMembers(context.Context, string) ([]store.GroupMember, error)
	CreateProposal(context.Context, store.Proposal) error
	GetProposal(context.Context, string) (store.Proposal, error)
	GetProposalDetail(context.Context, string, string) (store.ProposalDetail, error)
	ListGroupProposals(context.Context, string, string) ([]store.ProposalDetail, error)
	CloseIfExpired(context.Context, string, time.Time) (bool, error)
	CloseExpiredInGroup(context.Context, string, time.Time) ([]string, error)
	DeleteOpenProposal(context.Context, string) error
	GetVote(context.Context, string, string) (*store.VoteValue, error)
	CastVote(context.Context, store.CastVoteParams) (store.CastVoteResult, error)
	ListPendingDecisions(context.Context, string, time.Time) ([]store.PendingDecision, error)
	CreateDirectEventRoom(context.Context, store.EventRoom) error
	GetEventRoom(context.Context, string) (store.EventRoom, error)
	ListEventRoomsForUser(context.Context, string) ([]store.EventRoom, error)
	ListParticipants(context.Context, string) ([]store.EventRoomParticipant, error)
	IsParticipant(context.Context, string, string) (bool, error)
	AddParticipant(context.Context, string, string, time.Time) (bool, error)
	InsertMessage(context.Context, store.EventMessage) error
	ListMessages(context.Context, string, int, int) ([]store.EventMessage, error)
	CreateInvite(context.Context, store.EventInvite) error
	GetInvite(context.Context, string) (store.EventInvite, error)
	ListAllProposals(context.Context) ([]store.Proposal, error)
	ListMessageRecords(context.Context) ([]store.MessageSearchRecord, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexProposal(search.ProposalRecord)
	IndexMessage(search.MessageRecord)
	DeleteProposal(string)
	ReindexAll([]search.ProposalRecord, []search.MessageRecord)
}

type mailer interface {
	IsConfigured() bool
	SendEventReady(to []string, data email.EventReadyData) error
	SendInvite(to string, data email.InviteData) error
}

type transcriptExporter interface {
	Export(context.Context, export.Transcript, export.Format) (*export.Result, error)
}

type transcriptArchive interface {
	Put(ctx context.Context, roomID string, result *export.Result, now time.Time) (export.Archived, error)
}

// Deps carries the optional collaborators. Nil fields get working defaults,
// except Mail and Archive which stay disabled.
type Deps struct {
	Feed     feed.Publisher
	Search   searchIndex
	Mail     mailer
	Exporter transcriptExporter
	Archive  transcriptArchive
}

type Service struct {
	cfg      config.Config
	store    Store
	feed     feed.Publisher
	search   searchIndex
	mail     mailer
	exporter transcriptExporter
	archive  transcriptArchive
	now      func() time.Time
}

func New(cfg config.Config, dataStore Store, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		feed:     deps.Feed,
		search:   deps.Search,
		mail:     deps.Mail,
		exporter: deps.Exporter,
		archive:  deps.Archive,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.feed == nil {
		s.feed = feed.NewHub()
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil)
	}
	if s.exporter == nil {
		s.exporter = export.NewService()
	}
	if s.cfg.DefaultVoteWindow <= 0 {
		s.cfg.DefaultVoteWindow = 24 * time.Hour
	}
	if s.cfg.AccessTTL <= 0 {
		s.cfg.AccessTTL = 24 * time.Hour
	}
	return s
}

// Bootstrap rebuilds the search index and, when enabled, seeds a demo group.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.SeedDemo {
		if err := s.seedDemo(ctx); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
	}
	return s.Reindex(ctx)
}

func (s *Service) seedDemo(ctx context.Context) error {
	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}
	groups, err := s.store.ListGroupsForUser(ctx, owner.ID)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		return nil
	}

	now := s.now()
	group := store.Group{ID: util.NewID("grp"), Name: "Friday Crew", CreatedBy: owner.ID, CreatedAt: now}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return err
	}
	for _, name := range []string{"Sam", "Jordan", "Riley"} {
		user, err := s.store.EnsureUserByName(ctx, name)
		if err != nil {
			return err
		}
		if err := s.store.AddGroupMember(ctx, store.GroupMember{
			GroupID:  group.ID,
			UserID:   user.ID,
			Role:     store.GroupRoleMember,
			JoinedAt: now,
		}); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return err
		}
	}

	starts := now.Add(48 * time.Hour).Truncate(time.Hour)
	ends := starts.Add(3 * time.Hour)
	seeds := []store.Proposal{
		{Title: "Bouldering at the north wall", Description: strPtr("Beginners welcome, shoes can be rented."), StartsAt: &starts, EndsAt: &ends, Threshold: 3},
		{Title: "Pizza and a movie", Threshold: 2, IsAnonymous: true},
	}
	for _, seed := range seeds {
		seed.ID = util.NewID("prp")
		seed.GroupID = group.ID
		seed.CreatedBy = owner.ID
		seed.VoteWindowEndsAt = now.Add(s.cfg.DefaultVoteWindow)
		seed.Status = store.StatusOpen
		seed.CreatedAt = now
		seed.UpdatedAt = now
		if err := s.store.CreateProposal(ctx, seed); err != nil {
			return err
		}
	}
	log.Printf("seeded demo group %s", group.ID)
	return nil
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	if utf8.RuneCountInString(userName) > maxGroupNameLength {
		return Session{}, validationError("name is too long")
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, transient(err)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	now := s.now()
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, jti, s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       jti,
		ExpiresAt: now.Add(s.cfg.AccessTTL),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, notAuthenticated(err)
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, notAuthenticated(auth.ErrInvalidToken)
		}
		return Session{}, transient(err)
	}

	session := Session{
		Token:    token,
		UserID:   user.ID,
		UserName: user.DisplayName,
		JTI:      claims.ID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Authenticate resolves a token to the user and the groups whose changes
// they may observe.
func (s *Service) Authenticate(ctx context.Context, token string) (string, []string, error) {
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return "", nil, err
	}
	groupIDs, err := s.groupIDs(ctx, session.UserID)
	if err != nil {
		return "", nil, err
	}
	return session.UserID, groupIDs, nil
}

// Ping checks the health of service dependencies.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, change feed.Change) {
	if change.At.IsZero() {
		change.At = s.now()
	}
	if err := s.feed.Publish(ctx, change); err != nil {
		log.Printf("feed: publish %s %s: %v", change.Table, change.Op, err)
	}
}

// Groups

func (s *Service) groupIDs(ctx context.Context, userID string) ([]string, error) {
	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, transient(err)
	}
	ids := make([]string, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.ID)
	}
	return ids, nil
}

func (s *Service) requireMember(ctx context.Context, groupID, userID string) (store.GroupMember, error) {
	member, err := s.store.GetGroupMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.GroupMember{}, notGroupMember()
		}
		return store.GroupMember{}, transient(err)
	}
	return member, nil
}

func (s *Service) requireAction(ctx context.Context, groupID, userID string, action rbac.Action) (store.GroupMember, error) {
	member, err := s.requireMember(ctx, groupID, userID)
	if err != nil {
		return store.GroupMember{}, err
	}
	if !rbac.Can(rbac.Normalize(string(member.Role)), action) {
		return store.GroupMember{}, domainError(http.StatusForbidden, CodeForbidden, "Forbidden", map[string]any{"action": action})
	}
	return member, nil
}

func (s *Service) CreateGroup(ctx context.Context, session Session, name string) (store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Group{}, validationError("name is required")
	}
	if utf8.RuneCountInString(name) > maxGroupNameLength {
		return store.Group{}, validationError("name is too long")
	}

	group := store.Group{
		ID:        util.NewID("grp"),
		Name:      name,
		CreatedBy: session.UserID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return store.Group{}, transient(err)
	}
	s.publish(ctx, feed.Change{Table: feed.TableMembers, Op: feed.OpInsert, GroupID: group.ID, UserID: session.UserID})
	group.Role = store.GroupRoleOwner
	return group, nil
}

func (s *Service) ListGroups(ctx context.Context, session Session) ([]store.Group, error) {
	groups, err := s.store.ListGroupsForUser(ctx, session.UserID)
	if err != nil {
		return nil, transient(err)
	}
	if groups == nil {
		groups = []store.Group{}
	}
	return groups, nil
}

type AddMemberInput struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

func (s *Service) AddGroupMember(ctx context.Context, session Session, groupID string, input AddMemberInput) (store.GroupMember, error) {
	if _, err := s.requireAction(ctx, groupID, session.UserID, rbac.ActionManageMembers); err != nil {
		return store.GroupMember{}, err
	}

	role := store.GroupRoleMember
	switch strings.TrimSpace(input.Role) {
	case "", string(store.GroupRoleMember):
	case string(store.GroupRoleAdmin):
		role = store.GroupRoleAdmin
	default:
		return store.GroupMember{}, validationError("role must be member or admin")
	}

	var user store.User
	var err error
	switch {
	case strings.TrimSpace(input.UserID) != "":
		user, err = s.store.GetUserByID(ctx, strings.TrimSpace(input.UserID))
		if errors.Is(err, sql.ErrNoRows) {
			return store.GroupMember{}, domainError(http.StatusNotFound, CodeNotFound, "User not found", nil)
		}
	case strings.TrimSpace(input.UserName) != "":
		user, err = s.store.EnsureUserByName(ctx, strings.TrimSpace(input.UserName))
	default:
		return store.GroupMember{}, validationError("userId or userName is required")
	}
	if err != nil {
		return store.GroupMember{}, transient(err)
	}

	member := store.GroupMember{
		GroupID:  groupID,
		UserID:   user.ID,
		Role:     role,
		JoinedAt: s.now(),
	}
	if err := s.store.AddGroupMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.GroupMember{}, domainError(http.StatusConflict, CodeAlreadyMember, "User is already a member", nil)
		}
		return store.GroupMember{}, transient(err)
	}
	s.publish(ctx, feed.Change{Table: feed.TableMembers, Op: feed.OpInsert, GroupID: groupID, UserID: user.ID})
	return member, nil
}

func (s *Service) ListGroupMembers(ctx context.Context, session Session, groupID string) ([]store.GroupMember, error) {
	if _, err := s.requireMember(ctx, groupID, session.UserID); err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, transient(err)
	}
	return members, nil
}

func strPtr(value string) *string {
	return &value
}
