package auth

import (
	"testing"
	"time"

	"tripsync/internal/domain"
	"tripsync/pkg/hash"
	"tripsync/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func newTestService(t *testing.T) *Service {
	t.Helper()
	digest, err := hash.Hash("kyoto-2024")
	require.NoError(t, err)
	return NewService([]Credential{
		{Username: "alice", Role: RoleEditor, PasswordHash: digest},
		{Username: "bob", Role: "guest", PasswordHash: digest},
	}, secret, 15*time.Minute, 7*24*time.Hour)
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name     string
		req      domain.LoginRequest
		wantRole string
		wantErr  bool
	}{
		{name: "editor", req: domain.LoginRequest{Username: "alice", Password: "kyoto-2024"}, wantRole: RoleEditor},
		{name: "unknown role becomes viewer", req: domain.LoginRequest{Username: "bob", Password: "kyoto-2024"}, wantRole: RoleViewer},
		{name: "wrong password", req: domain.LoginRequest{Username: "alice", Password: "osaka-2024"}, wantErr: true},
		{name: "unknown user", req: domain.LoginRequest{Username: "mallory", Password: "kyoto-2024"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Login(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, resp.Role)
			assert.Equal(t, int64(900), resp.ExpiresIn)
			assert.NotEmpty(t, resp.AccessToken)
			assert.NotEmpty(t, resp.RefreshToken)
		})
	}
}

func TestSession(t *testing.T) {
	svc := newTestService(t)

	editor, err := svc.Login(&domain.LoginRequest{Username: "alice", Password: "kyoto-2024"})
	require.NoError(t, err)
	sess, err := svc.Session(editor.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.User)
	assert.True(t, sess.Writable())

	viewer, err := svc.Login(&domain.LoginRequest{Username: "bob", Password: "kyoto-2024"})
	require.NoError(t, err)
	sess, err = svc.Session(viewer.AccessToken)
	require.NoError(t, err)
	assert.False(t, sess.Writable())

	_, err = svc.Session(editor.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh tokens do not open sessions")

	stranger, err := jwt.GenerateTokenWithRole("mallory", RoleEditor, time.Minute, secret)
	require.NoError(t, err)
	_, err = svc.Session(stranger)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh(t *testing.T) {
	svc := newTestService(t)
	login, err := svc.Login(&domain.LoginRequest{Username: "alice", Password: "kyoto-2024"})
	require.NoError(t, err)

	tok, err := svc.Refresh(&domain.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.Username)
	assert.Equal(t, RoleEditor, tok.Role)
	sess, err := svc.Session(tok.AccessToken)
	require.NoError(t, err)
	assert.True(t, sess.Writable())

	_, err = svc.Refresh(&domain.RefreshTokenRequest{RefreshToken: login.AccessToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}
