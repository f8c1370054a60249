package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Entitled/app/models"
)

type memoryUsers struct {
	byEmail map[string]*models.User
	nextID  uint
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byEmail: map[string]*models.User{}}
}

func (m *memoryUsers) Create(u *models.User) error {
	if _, ok := m.byEmail[u.Email]; ok {
		return errors.New("duplicate email")
	}
	m.nextID++
	u.ID = m.nextID
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memoryUsers) GetByEmail(email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) GetByAPIKeyHash(hash string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.APIKeyHash == hash && u.APIKeyRevokedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryUsers) TouchAPIKeyUsage(uint, time.Time) error { return nil }

func (m *memoryUsers) Update(u *models.User) error {
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memoryUsers) EnsureUserByEmail(_ context.Context, email string) (uint, error) {
	if u, ok := m.byEmail[email]; ok {
		return u.ID, nil
	}
	u, err := models.NewPendingUser(email)
	if err != nil {
		return 0, err
	}
	if err := m.Create(u); err != nil {
		return 0, err
	}
	return u.ID, nil
}

func TestProvisionAPIKeyCreatesUser(t *testing.T) {
	users := newMemoryUsers()

	raw, user, err := ProvisionAPIKey(users, " Dev@Example.com ", "Dev")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)

	found, err := users.GetByAPIKeyHash(models.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "Dev", found.Name)
}

func TestProvisionAPIKeyActivatesPendingUserAndRotates(t *testing.T) {
	users := newMemoryUsers()
	id, err := users.EnsureUserByEmail(context.Background(), "buyer@example.com")
	require.NoError(t, err)

	first, _, err := ProvisionAPIKey(users, "buyer@example.com", "")
	require.NoError(t, err)
	second, user, err := ProvisionAPIKey(users, "buyer@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, models.STATUS_ACTIVE, user.Status)

	_, err = users.GetByAPIKeyHash(models.HashAPIKey(first))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "old key is replaced")
	_, err = users.GetByAPIKeyHash(models.HashAPIKey(second))
	assert.NoError(t, err)
}

func TestProvisionAPIKeyRejects(t *testing.T) {
	users := newMemoryUsers()
	require.NoError(t, users.Create(&models.User{Email: "gone@example.com", Status: models.STATUS_DISABLED, Role: models.ROLE_USER}))

	_, _, err := ProvisionAPIKey(users, "gone@example.com", "")
	assert.ErrorContains(t, err, "disabled")

	_, _, err = ProvisionAPIKey(users, "not-an-email", "")
	assert.Error(t, err)
}

func TestRevokeAPIKey(t *testing.T) {
	users := newMemoryUsers()
	raw, _, err := ProvisionAPIKey(users, "dev@example.com", "")
	require.NoError(t, err)

	require.NoError(t, RevokeAPIKey(users, "dev@example.com"))
	_, err = users.GetByAPIKeyHash(models.HashAPIKey(raw))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	assert.Error(t, RevokeAPIKey(users, "nobody@example.com"))
}
