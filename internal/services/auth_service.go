package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storesync/client/internal/models"
	"github.com/storesync/client/internal/remote"
)

// AuthRemote is the slice of the remote client the auth service uses.
type AuthRemote interface {
	Login(ctx context.Context, identifier, password string) (*models.RemoteLoginResponse, error)
	GetUser(ctx context.Context, id string) (*models.RemoteUser, error)
	GetRole(ctx context.Context, id string) (*models.Role, error)
	SetToken(token string)
	ClearToken()
}

// UserStore is the slice of the user repository the auth service uses.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	Upsert(ctx context.Context, user *models.User) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	SaveRole(ctx context.Context, role *models.Role) error
}

// TableSyncer triggers a sync of a single table. Implemented by the
// sync engine; nil disables the post-login refresh.
type TableSyncer interface {
	SyncTable(ctx context.Context, table string, direction models.SyncDirection) error
}

// AuthService verifies credentials remotely when possible and against
// the local cache otherwise. A remote auth rejection is terminal; only
// transport and server faults fall through to offline verification.
type AuthService struct {
	remote  AuthRemote
	users   UserStore
	syncer  TableSyncer
	log     *zap.Logger
	timeout time.Duration
}

// NewAuthService creates a new AuthService. syncer may be nil.
func NewAuthService(remoteAPI AuthRemote, users UserStore, syncer TableSyncer, log *zap.Logger) *AuthService {
	return &AuthService{
		remote:  remoteAPI,
		users:   users,
		syncer:  syncer,
		log:     log,
		timeout: 30 * time.Second,
	}
}

// Login runs the login strategies in order. req.UseServer pins the
// strategy: true forces remote-only, false offline-only, nil tries
// remote first and degrades to offline on connectivity failures.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	if req.Identifier == "" || req.Password == "" {
		return nil, models.AuthError{Message: "identifier and password are required"}
	}

	if req.UseServer != nil {
		if *req.UseServer {
			return s.loginRemote(ctx, req)
		}
		return s.loginOffline(ctx, req)
	}

	result, err := s.loginRemote(ctx, req)
	if err == nil {
		return result, nil
	}
	kind := remote.KindOf(err)
	if kind == remote.KindAuth {
		// The server saw the credentials and rejected them. Offline
		// verification must not resurrect a revoked account.
		return nil, models.AuthError{Message: "invalid credentials"}
	}
	if kind == remote.KindData {
		return nil, err
	}

	s.log.Info("server unreachable, verifying credentials offline",
		zap.String("identifier", req.Identifier), zap.Error(err))
	return s.loginOffline(ctx, req)
}

func (s *AuthService) loginRemote(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	resp, err := s.remote.Login(ctx, req.Identifier, req.Password)
	if err != nil {
		return nil, err
	}

	s.remote.SetToken(resp.Token)
	go s.cacheCredentials(resp.User.ID, req.Password)

	return &models.LoginResult{
		User:      resp.User,
		Token:     resp.Token,
		IsOffline: false,
	}, nil
}

// cacheCredentials pulls the full profile and stores it with a fresh
// hash of the just-verified password, so this account can log in with
// the server unreachable. Failures are logged, never surfaced: the
// login already succeeded.
func (s *AuthService) cacheCredentials(userID, password string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	remoteUser, err := s.remote.GetUser(ctx, userID)
	if err != nil || remoteUser == nil {
		s.log.Warn("could not fetch profile for offline cache",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	user := remoteUser.ToUser()
	if user.PasswordHash == "" {
		// Server omitted the hash; derive one from the password that
		// just verified remotely.
		if err := user.SetPassword(password); err != nil {
			s.log.Warn("could not hash password for offline cache", zap.Error(err))
			return
		}
	}

	if err := s.ensureRole(ctx, user.RoleID); err != nil {
		s.log.Warn("could not cache role for offline login",
			zap.String("role_id", user.RoleID), zap.Error(err))
		return
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		s.log.Warn("could not cache user for offline login",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.log.Debug("cached credentials for offline login", zap.String("user_id", userID))

	if s.syncer != nil {
		if err := s.syncer.SyncTable(ctx, "users", models.DirectionDownload); err != nil {
			s.log.Debug("post-login user sync skipped", zap.Error(err))
		}
	}
}

// ensureRole makes the user's role foreign key resolvable, fetching
// the real role when possible and writing a placeholder otherwise.
func (s *AuthService) ensureRole(ctx context.Context, roleID string) error {
	if roleID == "" {
		return fmt.Errorf("user has no role")
	}
	existing, err := s.users.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	role, err := s.remote.GetRole(ctx, roleID)
	if err != nil || role == nil {
		role = models.PlaceholderRole(roleID)
	}
	return s.users.SaveRole(ctx, role)
}

func (s *AuthService) loginOffline(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	user, err := s.users.GetByIdentifier(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		return nil, models.ErrNotCachedLocally
	}
	if !user.IsActive {
		return nil, models.ErrUserInactive
	}
	if !user.VerifyPassword(req.Password) {
		return nil, models.ErrInvalidPassword
	}

	s.log.Info("offline login succeeded", zap.String("user_id", user.ID))
	return &models.LoginResult{
		User:      user.ToProfile(),
		IsOffline: true,
	}, nil
}

// Logout drops the bearer token. The credential cache is kept so the
// account can still log in offline.
func (s *AuthService) Logout() {
	s.remote.ClearToken()
}
