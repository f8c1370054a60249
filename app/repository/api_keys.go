package repository

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Entitled/app/models"
)

// ProvisionAPIKey issues a fresh API key for the user owning email and returns the raw key.
// A missing user is created active; a pending user (created by a webhook) is activated.
// Any previous key stops working.
func ProvisionAPIKey(users UserRepository, email, name string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := users.GetByEmail(email)
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	switch {
	case isNew:
		user = &models.User{Email: email, Role: models.ROLE_USER}
	case err != nil:
		return "", nil, fmt.Errorf("look up user %s: %w", email, err)
	case user.Status == models.STATUS_DISABLED:
		return "", nil, fmt.Errorf("user %s is disabled", email)
	}

	user.Status = models.STATUS_ACTIVE
	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}
	if err := user.Validate(); err != nil {
		return "", nil, err
	}
	raw, err := user.IssueAPIKey()
	if err != nil {
		return "", nil, err
	}

	if isNew {
		err = users.Create(user)
	} else {
		err = users.Update(user)
	}
	if err != nil {
		return "", nil, fmt.Errorf("store API key for %s: %w", email, err)
	}
	return raw, user, nil
}

// RevokeAPIKey disables the API key of the user owning email.
func RevokeAPIKey(users UserRepository, email string) error {
	user, err := users.GetByEmail(email)
	if err != nil {
		return fmt.Errorf("look up user %s: %w", email, err)
	}
	user.RevokeAPIKey()
	return users.Update(user)
}
