package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"bizmatrix/api/internal/archive"
	"bizmatrix/api/internal/auth"
	"bizmatrix/api/internal/config"
	"bizmatrix/api/internal/export"
	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/rbac"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/search"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SetUserRole(context.Context, string, string) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListDepartments(context.Context) ([]store.Department, error)
	GetDepartment(context.Context, string) (store.Department, error)
	InsertDepartment(context.Context, store.Department) error
	UpdateDepartment(context.Context, store.Department) error
	DeleteDepartment(context.Context, string) error
	CountStaffInDepartment(context.Context, string) (int, error)
	ListStaff(context.Context, string) ([]store.Staff, error)
	GetStaff(context.Context, string) (store.Staff, error)
	InsertStaff(context.Context, store.Staff) error
	UpdateStaff(context.Context, store.Staff) error
	DeleteStaff(context.Context, string) error
	ListGoals(context.Context, string) ([]store.Goal, error)
	GetGoal(context.Context, string) (store.Goal, error)
	InsertGoal(context.Context, store.Goal) error
	UpdateGoal(context.Context, store.Goal) error
	DeleteGoal(context.Context, string) error
	Ping(context.Context) error
}

// sessionStore holds refresh sessions. Redis is used when configured, otherwise the
// database does it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexDepartment(store.Department)
	IndexStaff(store.Staff)
	IndexGoal(store.Goal)
	Remove(search.ResultType, string)
}

type archiver interface {
	Record(repo.VersionInfo, repo.VersionData, string, string) (archive.CommitInfo, error)
	Remove(string, string) (archive.CommitInfo, error)
	History(int) ([]archive.CommitInfo, error)
	VersionAt(string, string) (archive.Entry, error)
}

type exporter interface {
	Export(context.Context, export.Document, export.Format) (*export.Result, error)
}

type attachmentStore interface {
	Put(ctx context.Context, conversationID, name, mimeType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, string, error)
	Remove(ctx context.Context, key string) error
	RemoveConversation(ctx context.Context, conversationID string) error
}

// Deps is what NewService wires together. Sessions, Search, Archive and Attachments
// are optional.
type Deps struct {
	Config      config.Config
	Store       dataStore
	Sessions    sessionStore
	KV          kv.Store
	Repos       *repo.Repositories
	Exchange    *orchestrator.Exchange
	Analyses    *orchestrator.Analyses
	Search      searcher
	Archive     archiver
	Exporter    exporter
	Attachments attachmentStore
	Log         *zap.Logger
}

type Service struct {
	cfg         config.Config
	store       dataStore
	sessions    sessionStore
	kv          kv.Store
	repos       *repo.Repositories
	exchange    *orchestrator.Exchange
	analyses    *orchestrator.Analyses
	search      searcher
	archive     archiver
	exporter    exporter
	attachments attachmentStore
	log         *zap.Logger
	validate    *validator.Validate
	now         func() time.Time

	// writeMu serialises read-modify-write cycles over the working set (versions,
	// active matrix, goals). The kv space has no cross-key locking of its own.
	writeMu sync.Mutex
}

func NewService(deps Deps) *Service {
	s := &Service{
		cfg:         deps.Config,
		store:       deps.Store,
		sessions:    deps.Sessions,
		kv:          deps.KV,
		repos:       deps.Repos,
		exchange:    deps.Exchange,
		analyses:    deps.Analyses,
		search:      deps.Search,
		archive:     deps.Archive,
		exporter:    deps.Exporter,
		attachments: deps.Attachments,
		log:         logger.OrNop(deps.Log).Named("app"),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
	if s.sessions == nil {
		s.sessions = deps.Store
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, deps.Log)
	}
	if s.analyses == nil {
		s.analyses = orchestrator.NewAnalyses()
	}
	if s.exporter == nil {
		s.exporter = export.NewService(deps.Log)
	}
	return s
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	// role comes from the database so a role change applies before the token expires
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn("revoke access token failed", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn("revoke refresh session failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SetUserRole changes another user's role. Callers must hold the admin action.
func (s *Service) SetUserRole(ctx context.Context, session Session, userID, role string) (store.User, error) {
	normalized := rbac.Normalize(role)
	if string(normalized) != strings.TrimSpace(role) {
		return store.User{}, validationError("role must be viewer, editor or admin", nil)
	}
	if userID == session.UserID && normalized != rbac.RoleAdmin {
		return store.User{}, domainError(http.StatusConflict, "SELF_DEMOTION", "Admins cannot remove their own admin role", nil)
	}
	if err := s.store.SetUserRole(ctx, userID, string(normalized)); err != nil {
		return store.User{}, writeFailed("user role", err)
	}
	s.log.Info("user role changed", zap.String("user_id", userID), zap.String("role", string(normalized)), zap.String("by", session.UserID))
	return s.store.GetUserByID(ctx, userID)
}

// Ping checks every backing store that must be up to serve requests.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.kv != nil {
		checks["kv"] = s.kv.Ping(ctx)
	}
	return checks
}

// check runs struct-tag validation and reports the failing fields.
func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationError(err.Error(), nil)
	}
	fields := make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := lowerFirst(fe.Field())
		fields[name] = fe.Tag()
		names = append(names, name)
	}
	return validationError(fmt.Sprintf("invalid fields: %s", strings.Join(names, ", ")), map[string]any{"fields": fields})
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}

// settings returns the current settings, falling back to defaults.
func (s *Service) settings(ctx context.Context) repo.AppSettings {
	return s.repos.Settings.Get(ctx)
}
