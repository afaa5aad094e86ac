package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/infra/memory"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuthFixture(t *testing.T) (*service.AuthService, domain.User) {
	t.Helper()
	hash, err := service.HashPassword("correct-horse")
	require.NoError(t, err)

	store := memory.New()
	user := store.AddUser(domain.User{CompanyID: companyID, Email: "admin@acme.test", Name: "Admin", Role: "admin", PasswordHash: hash})
	return service.NewAuthService(store, "test-secret", 15*time.Minute, zap.NewNop()), user
}

func TestLogin_IssuesValidToken(t *testing.T) {
	svc, user := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), domain.LoginRequest{Email: " Admin@acme.test ", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, user.ID, resp.User.UserID)

	p, err := svc.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, companyID, p.CompanyID)
	assert.True(t, p.IsAdmin())
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), domain.LoginRequest{Email: "admin@acme.test", Password: "nope-nope"})
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), domain.LoginRequest{Email: "ghost@acme.test", Password: "correct-horse"})
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestValidateAccessToken_RejectsForeignSecret(t *testing.T) {
	svc, _ := newAuthFixture(t)
	hash, err := service.HashPassword("correct-horse")
	require.NoError(t, err)
	store := memory.New()
	store.AddUser(domain.User{CompanyID: 2, Email: "x@y.test", Role: "admin", PasswordHash: hash})
	other := service.NewAuthService(store, "other-secret", time.Minute, zap.NewNop())

	resp, err := other.Login(context.Background(), domain.LoginRequest{Email: "x@y.test", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(resp.AccessToken)
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}

func TestMe(t *testing.T) {
	svc, user := newAuthFixture(t)

	p, err := svc.Me(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@acme.test", p.Email)

	_, err = svc.Me(context.Background(), 999)
	var unauthorized *domain.ErrUnauthorized
	require.ErrorAs(t, err, &unauthorized)
}
