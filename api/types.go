package api

import (
	"context"

	"notepad-api/domain"
)

// Credentials abstracts the credential service for handlers.
type Credentials interface {
	Login(ctx context.Context, username, password string) (domain.User, error)
	Register(ctx context.Context, username, password, confirm string) (domain.User, error)
}

// Authenticator is implemented by types able to extract usernames from
// Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type credentialsRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

type sessionResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type taskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}
