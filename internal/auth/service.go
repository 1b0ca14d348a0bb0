package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	"github.com/odyssey-erp/odyssey-rbac/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	users   UserStore
	tokens  *TokenIssuer
	revoked RevocationStore
	logger  *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a new Service. revoked may be nil, in which case
// revocation is not supported.
func NewService(users UserStore, tokens *TokenIssuer, revoked RevocationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, tokens: tokens, revoked: revoked, logger: logger}
}

// Authenticate validates username/password credentials. Unknown and inactive
// accounts fail exactly like a wrong password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (rbac.User, error) {
	user, hash, err := s.users.GetCredentials(ctx, rbac.NormalizeUsername(username))
	if err != nil {
		if !rbac.IsNotFound(err) {
			return rbac.User{}, err
		}
		// burn the same bcrypt work as a real comparison
		_, _ = rbac.CheckPassword(s.dummy(), password)
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	ok, err := rbac.CheckPassword(hash, password)
	if err != nil || !ok || !user.IsActive {
		return rbac.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = rbac.HashPassword("odyssey-rbac-unknown-user")
	})
	return s.dummyHash
}

// Login authenticates and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return LoginResult{}, err
	}
	pair, err := s.IssuePair(user)
	if err != nil {
		return LoginResult{}, err
	}
	s.logger.Info("login", slog.Int64("user_id", user.ID))
	return LoginResult{TokenPair: pair, User: user}, nil
}

// IssuePair signs a fresh access/refresh pair for user.
func (s *Service) IssuePair(user rbac.User) (TokenPair, error) {
	access, _, err := s.tokens.Issue(user.ID, AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.tokens.Issue(user.ID, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refresh string) (string, error) {
	claims, err := s.tokens.Parse(refresh, RefreshToken)
	if err != nil {
		return "", err
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", ErrTokenInvalid
		}
	}
	user, err := s.activeUser(ctx, claims)
	if err != nil {
		return "", err
	}
	access, _, err := s.tokens.Issue(user.ID, AccessToken)
	return access, err
}

// Revoke blacklists a refresh token until it would have expired.
func (s *Service) Revoke(ctx context.Context, refresh string) error {
	claims, err := s.tokens.Parse(refresh, RefreshToken)
	if err != nil {
		return err
	}
	if s.revoked == nil {
		return nil
	}
	return s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Principal resolves an access token to the caller it identifies.
func (s *Service) Principal(ctx context.Context, access string) (shared.Principal, error) {
	claims, err := s.tokens.Parse(access, AccessToken)
	if err != nil {
		return shared.Principal{}, err
	}
	user, err := s.activeUser(ctx, claims)
	if err != nil {
		return shared.Principal{}, err
	}
	return shared.Principal{UserID: user.ID, Username: user.Username, IsStaff: user.IsStaff}, nil
}

func (s *Service) activeUser(ctx context.Context, claims Claims) (rbac.User, error) {
	id, err := claims.UserID()
	if err != nil {
		return rbac.User{}, ErrTokenInvalid
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if rbac.IsNotFound(err) {
			return rbac.User{}, ErrTokenInvalid
		}
		return rbac.User{}, err
	}
	if !user.IsActive {
		return rbac.User{}, ErrTokenInvalid
	}
	return user, nil
}
