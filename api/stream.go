package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"notepad-api/domain"
	"notepad-api/session"
)

// streamTasks pushes the caller's task list over SSE. The initial
// snapshot is sent immediately and a fresh one follows every time the
// synchronizer observes a change. EventSource cannot set headers, so a
// token query parameter is accepted as a fallback.
func (a *App) streamTasks(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	username, err := a.tokens.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	sess, ok := a.sessions.Get(username)
	if !ok || sess.Screen() != session.ScreenTaskManager {
		return c.String(http.StatusUnauthorized, "no active session")
	}
	a.mu.Lock()
	syn := a.syncs[username]
	a.mu.Unlock()
	if syn == nil {
		return c.String(http.StatusUnauthorized, "no active session")
	}
	mode, err := domain.ParseFilterMode(c.QueryParam("filter"))
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	ctx := c.Request().Context()
	ch, stop := syn.Watch()
	defer stop()
	for {
		view := domain.Filter(syn.Tasks(), mode)
		data, err := sonic.Marshal(tasksResponse{Tasks: view})
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if _, err := c.Response().Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := c.Response().Write(data); err != nil {
			return err
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			continue
		}
	}
}
