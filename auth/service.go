// Package auth implements the credential service: username/password
// checks against the Users collection of the remote store. Records are
// read with a single get, so two concurrent registrations of the same
// username can race between the existence check and the write; that is a
// documented limitation of the system, not handled here.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"notepad-api/domain"
	"notepad-api/storage"
)

var (
	ErrEmptyInput         = errors.New("all fields are required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrPasswordMismatch   = errors.New("passwords do not match")
)

// Service checks and creates account records.
type Service struct {
	store storage.Client
}

func NewService(store storage.Client) Service { return Service{store: store} }

func userPath(username string) string { return "Users/" + username }

// Login verifies the pair against the stored record.
func (s Service) Login(ctx context.Context, username, password string) (domain.User, error) {
	if username == "" || password == "" {
		return domain.User{}, ErrEmptyInput
	}
	rec, err := s.store.GetOnce(ctx, userPath(username))
	if err != nil {
		log.WithField("user", username).Errorf("login read: %v", err)
		return domain.User{}, err
	}
	if rec == nil {
		return domain.User{}, ErrInvalidCredentials
	}
	var stored domain.User
	if err := json.Unmarshal(rec, &stored); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", storage.ErrReadFailed, err)
	}
	if stored.Password != password {
		return domain.User{}, ErrInvalidCredentials
	}
	return domain.User{Username: username, Password: password}, nil
}

// Register creates the account if the username is unused. Nothing is
// written when the name is taken or the confirmation does not match.
func (s Service) Register(ctx context.Context, username, password, confirm string) (domain.User, error) {
	if username == "" || password == "" || confirm == "" {
		return domain.User{}, ErrEmptyInput
	}
	if password != confirm {
		return domain.User{}, ErrPasswordMismatch
	}
	rec, err := s.store.GetOnce(ctx, userPath(username))
	if err != nil {
		log.WithField("user", username).Errorf("register read: %v", err)
		return domain.User{}, err
	}
	if rec != nil {
		return domain.User{}, ErrUsernameTaken
	}
	user := domain.User{Username: username, Password: password}
	if err := s.store.Write(ctx, userPath(username), user); err != nil {
		log.WithField("user", username).Errorf("register write: %v", err)
		return domain.User{}, err
	}
	return user, nil
}
