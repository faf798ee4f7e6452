package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/domain"
	jwtinfra "github.com/go-doubleoptin/internal/infrastructure/jwt"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Bearer    string    `json:"Bearer"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

// Service authenticates admins from the forms configuration.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Sign(username, role string) (string, time.Time, error)
}

var _ TokenSigner = (*jwtinfra.Provider)(nil)

type service struct {
	admins map[string]domain.Admin
	signer TokenSigner
}

// dummyHash keeps unknown usernames on the same bcrypt cost as known ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("doubleoptin-dummy"), bcrypt.DefaultCost)

func NewService(admins []domain.Admin, signer TokenSigner) Service {
	m := make(map[string]domain.Admin, len(admins))
	for _, a := range admins {
		m[strings.ToLower(a.Username)] = a
	}
	return &service{admins: m, signer: signer}
}

func (s *service) Login(_ context.Context, req LoginRequest) (*LoginResult, error) {
	a, ok := s.admins[strings.ToLower(strings.TrimSpace(req.Username))]
	hash := dummyHash
	if ok {
		hash = []byte(a.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || !ok {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	role := a.Role
	if role == "" {
		role = domain.RoleAdmin
	}
	bearer, exp, err := s.signer.Sign(a.Username, role)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{Bearer: bearer, ExpiresAt: exp, Username: a.Username, Role: role}, nil
}
