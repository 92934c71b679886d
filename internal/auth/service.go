// Package auth verifies collaborator credentials and turns tokens into
// sessions.
package auth

import (
	"errors"
	"fmt"
	"time"

	"tripsync/internal/appctx"
	"tripsync/internal/domain"
	"tripsync/pkg/hash"
	"tripsync/pkg/jwt"
)

const (
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Credential is one collaborator. PasswordHash is a bcrypt digest.
type Credential struct {
	Username     string
	Role         string
	PasswordHash string
}

type Service struct {
	users             map[string]Credential
	jwtSecret         string
	jwtExpiration     time.Duration
	refreshExpiration time.Duration
}

func NewService(creds []Credential, jwtSecret string, jwtExp, refreshExp time.Duration) *Service {
	users := make(map[string]Credential, len(creds))
	for _, c := range creds {
		if c.Role != RoleEditor {
			c.Role = RoleViewer
		}
		users[c.Username] = c
	}
	return &Service{
		users:             users,
		jwtSecret:         jwtSecret,
		jwtExpiration:     jwtExp,
		refreshExpiration: refreshExp,
	}
}

func (s *Service) Login(req *domain.LoginRequest) (*domain.LoginResponse, error) {
	user, ok := s.users[req.Username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := hash.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := jwt.GenerateTokenWithRole(user.Username, user.Role, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := jwt.GenerateRefreshToken(user.Username, s.refreshExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &domain.LoginResponse{
		Username:     user.Username,
		Role:         user.Role,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtExpiration.Seconds()),
	}, nil
}

// Refresh issues a new access token carrying the user's current role.
func (s *Service) Refresh(req *domain.RefreshTokenRequest) (*domain.TokenResponse, error) {
	claims, err := jwt.ValidateRefreshToken(req.RefreshToken, s.jwtSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, ok := s.users[claims.UserID]
	if !ok {
		return nil, ErrInvalidToken
	}

	accessToken, err := jwt.GenerateTokenWithRole(user.Username, user.Role, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return &domain.TokenResponse{
		Username:    user.Username,
		Role:        user.Role,
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtExpiration.Seconds()),
	}, nil
}

// Session validates an access token. Write permission follows the role
// the token was issued with.
func (s *Service) Session(token string) (appctx.Session, error) {
	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return appctx.Session{}, ErrInvalidToken
	}
	if _, ok := s.users[claims.UserID]; !ok {
		return appctx.Session{}, ErrInvalidToken
	}
	if claims.Role == RoleEditor {
		return appctx.Editor(claims.UserID), nil
	}
	return appctx.Viewer(claims.UserID), nil
}
