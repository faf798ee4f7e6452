package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockSigner struct{ mock.Mock }

func (m *mockSigner) Sign(username, role string) (string, time.Time, error) {
	args := m.Called(username, role)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func admins(t *testing.T) []domain.Admin {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return []domain.Admin{
		{Username: "Admin", PasswordHash: string(hash), Role: domain.RoleAdmin},
		{Username: "viewer", PasswordHash: string(hash)},
	}
}

func TestLogin_Success(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	signer := &mockSigner{}
	signer.On("Sign", "Admin", domain.RoleAdmin).Return("token", exp, nil)
	svc := NewService(admins(t), signer)

	res, err := svc.Login(context.Background(), LoginRequest{Username: " admin ", Password: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "token", res.Bearer)
	assert.Equal(t, exp, res.ExpiresAt)
	assert.Equal(t, domain.RoleAdmin, res.Role)
	signer.AssertExpectations(t)
}

func TestLogin_DefaultRole(t *testing.T) {
	signer := &mockSigner{}
	signer.On("Sign", "viewer", domain.RoleAdmin).Return("t", time.Now(), nil)
	svc := NewService(admins(t), signer)

	_, err := svc.Login(context.Background(), LoginRequest{Username: "viewer", Password: "s3cret"})
	require.NoError(t, err)
	signer.AssertExpectations(t)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	signer := &mockSigner{}
	svc := NewService(admins(t), signer)

	_, err := svc.Login(context.Background(), LoginRequest{Username: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Login(context.Background(), LoginRequest{Username: "nobody", Password: "s3cret"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	signer.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)
}

func TestLogin_SignFailure(t *testing.T) {
	signer := &mockSigner{}
	signer.On("Sign", "Admin", domain.RoleAdmin).Return("", time.Time{}, errors.New("no key"))
	svc := NewService(admins(t), signer)

	_, err := svc.Login(context.Background(), LoginRequest{Username: "admin", Password: "s3cret"})
	assert.ErrorContains(t, err, "sign token")
}
