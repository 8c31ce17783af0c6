package services

import (
	"context"
	"errors"

	"bazaar/internal/domain"
	"bazaar/internal/repos"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCreds = errors.New("invalid email or password")

// AuthService binds sessions to users and answers who the caller is. It also
// serves as the Access collaborator for role changes.
type AuthService struct {
	Users *repos.UserRepo
}

func (s *AuthService) Login(sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(email)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Users.BindSession(sid, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(sid string) error {
	return s.Users.UnbindSession(sid)
}

func (s *AuthService) CurrentUser(sid string) (*domain.User, error) {
	return s.Users.SessionUser(sid)
}

// CallerIdentity resolves a session to (userID, role). An unknown or logged
// out session yields an empty identity.
func (s *AuthService) CallerIdentity(sid string) domain.Identity {
	if sid == "" {
		return domain.Identity{}
	}
	u, err := s.Users.SessionUser(sid)
	if err != nil || u == nil {
		return domain.Identity{}
	}
	return domain.Identity{UserID: u.ID, Role: u.Role}
}

func (s *AuthService) UserRole(ctx context.Context, userID string) (domain.Role, error) {
	return s.Users.Role(ctx, userID)
}

func (s *AuthService) SetUserRole(ctx context.Context, userID string, role domain.Role) error {
	if !role.Valid() {
		return domain.Invalid("unknown role %q", role)
	}
	return s.Users.SetRole(ctx, userID, role)
}
