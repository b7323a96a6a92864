package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"notepad-api/auth"
	"notepad-api/domain"
	"notepad-api/session"
	"notepad-api/storage"
	"notepad-api/tasks"
)

// request bodies are tiny; anything larger is malformed or hostile
const postBodyMaxSize = 1 << 20

// Tokens issues and validates session tokens.
type Tokens interface {
	Authenticator
	Issue(username string) (string, error)
}

// App wires the credential service, session registry and per-user task
// synchronizers behind the HTTP surface.
type App struct {
	store    storage.Client
	creds    Credentials
	tokens   Tokens
	sessions *session.Registry
	logger   *log.Logger

	mu    sync.Mutex
	syncs map[string]*tasks.Synchronizer
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store storage.Client, creds Credentials, tokens Tokens, logger *log.Logger) *App {
	a := &App{
		store:    store,
		creds:    creds,
		tokens:   tokens,
		sessions: session.NewRegistry(),
		logger:   logger,
		syncs:    make(map[string]*tasks.Synchronizer),
	}
	e.POST("/api/login", a.login)
	e.POST("/api/register", a.register)
	e.POST("/api/logout", a.logout)
	e.GET("/api/tasks", a.getTasks)
	e.POST("/api/tasks", a.createTask)
	e.PUT("/api/tasks/:id", a.updateTask)
	e.POST("/api/tasks/:id/toggle", a.toggleTask)
	e.DELETE("/api/tasks/:id", a.deleteTask)
	e.GET("/api/stream", a.streamTasks)
	e.GET("/healthz", a.healthz)
	return a
}

func (a *App) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (a *App) login(c echo.Context) error {
	var req credentialsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	user, err := a.creds.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return c.String(authErrorStatus(err), err.Error())
	}

	sess := session.New()
	if err := sess.LoginSucceeded(user); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return a.openSession(c, sess, user)
}

func (a *App) register(c echo.Context) error {
	var req credentialsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	sess := session.New()
	if err := sess.ShowRegister(); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	user, err := a.creds.Register(c.Request().Context(), req.Username, req.Password, req.ConfirmPassword)
	if err != nil {
		return c.String(authErrorStatus(err), err.Error())
	}
	if err := sess.RegisterSucceeded(user); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return a.openSession(c, sess, user)
}

// openSession starts the user's task subscription, installs the session
// and hands the client its token. The subscription outlives the request,
// so it runs on a background context until logout tears it down.
func (a *App) openSession(c echo.Context, sess *session.Session, user domain.User) error {
	syn := tasks.New(a.store)
	if _, _, err := syn.Subscribe(context.Background(), user.Username); err != nil {
		return c.String(http.StatusBadGateway, err.Error())
	}
	sess.SetTeardown(syn.Close)

	a.mu.Lock()
	a.syncs[user.Username] = syn
	a.mu.Unlock()
	a.sessions.Put(user.Username, sess)

	token, err := a.tokens.Issue(user.Username)
	if err != nil {
		a.logger.Errorf("issue token: %v", err)
		return c.String(http.StatusInternalServerError, "failed to issue token")
	}
	return c.JSON(http.StatusOK, sessionResponse{Token: token, Username: user.Username})
}

func (a *App) logout(c echo.Context) error {
	username, err := a.tokens.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if sess, ok := a.sessions.Get(username); ok {
		if err := sess.Logout(); err != nil {
			a.logger.WithField("user", username).Warnf("logout: %v", err)
		}
	}
	a.sessions.Remove(username)
	a.mu.Lock()
	delete(a.syncs, username)
	a.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

// currentSync authenticates the request and resolves the caller's live
// synchronizer. Requests from sessions that are not on the task manager
// screen are rejected.
func (a *App) currentSync(c echo.Context) (*tasks.Synchronizer, string, error) {
	username, err := a.tokens.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	sess, ok := a.sessions.Get(username)
	if !ok || sess.Screen() != session.ScreenTaskManager {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "no active session")
	}
	a.mu.Lock()
	syn := a.syncs[username]
	a.mu.Unlock()
	if syn == nil {
		return nil, "", echo.NewHTTPError(http.StatusUnauthorized, "no active session")
	}
	return syn, username, nil
}

func (a *App) getTasks(c echo.Context) (err error) {
	metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), a.logger)
	if spanCtx != nil {
		c.SetRequest(c.Request().WithContext(spanCtx))
	}
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	syn, _, authErr := a.currentSync(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		var he *echo.HTTPError
		if errors.As(authErr, &he) {
			err = c.String(he.Code, fmt.Sprint(he.Message))
		} else {
			err = c.String(http.StatusUnauthorized, authErr.Error())
		}
		return err
	}
	mode, parseErr := domain.ParseFilterMode(c.QueryParam("filter"))
	if parseErr != nil {
		metrics.SetErrorStage("invalid_filter")
		err = c.String(http.StatusBadRequest, parseErr.Error())
		return err
	}
	metrics.SetFilterMode(mode)
	view := domain.Filter(syn.Tasks(), mode)
	metrics.SetTasksReturned(len(view))
	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, tasksResponse{Tasks: view})
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (a *App) createTask(c echo.Context) error {
	syn, _, err := a.currentSync(c)
	if err != nil {
		return err
	}
	var req taskRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.String(http.StatusBadRequest, "title is required")
	}
	if err := syn.Create(c.Request().Context(), req.Title, req.Description, req.Completed); err != nil {
		return c.String(taskErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *App) updateTask(c echo.Context) error {
	syn, _, err := a.currentSync(c)
	if err != nil {
		return err
	}
	var req taskRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.String(http.StatusBadRequest, "title is required")
	}
	if err := syn.Update(c.Request().Context(), c.Param("id"), req.Title, req.Description, req.Completed); err != nil {
		return c.String(taskErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *App) toggleTask(c echo.Context) error {
	syn, _, err := a.currentSync(c)
	if err != nil {
		return err
	}
	if err := syn.ToggleComplete(c.Request().Context(), c.Param("id")); err != nil {
		return c.String(taskErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *App) deleteTask(c echo.Context) error {
	syn, _, err := a.currentSync(c)
	if err != nil {
		return err
	}
	if err := syn.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return c.String(taskErrorStatus(err), err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrEmptyInput), errors.Is(err, auth.ErrPasswordMismatch):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, storage.ErrReadFailed), errors.Is(err, storage.ErrWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func taskErrorStatus(err error) int {
	switch {
	case errors.Is(err, tasks.ErrMissingTaskID):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrNotSubscribed):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrWriteFailed), errors.Is(err, storage.ErrReadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
