package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/SignalFox/internal/pkg/usercontext"
)

func seedUser(t *testing.T, repos *repository.Repositories, email string, profile models.Profile) (*models.User, string) {
	t.Helper()
	u, err := models.CreateUser("tester", email, "")
	require.NoError(t, err)
	if profile != nil {
		u.SetProfile(profile)
	}
	key, err := u.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, repos.User.Create(context.Background(), u))
	return u, key
}

func newApp(repos *repository.Repositories) *fiber.App {
	app := fiber.New()
	api := app.Group("/api", APIKeyAuth(repos.User))
	api.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	api.Get("/admin", RequireAdmin, func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/cron", CronSecret("s3cret"), func(c *fiber.Ctx) error {
		return c.SendString("swept")
	})
	return app
}

func TestAPIKeyAuth(t *testing.T) {
	repos := repository.NewRepositories(dbtest.New(t))
	user, key := seedUser(t, repos, "ada@example.com", nil)
	app := newApp(repos)

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing key", "", "", fiber.StatusUnauthorized},
		{"unknown key", "X-API-Key", "sfx_nope", fiber.StatusUnauthorized},
		{"valid key header", "X-API-Key", key, fiber.StatusOK},
		{"valid bearer", "Authorization", "Bearer " + key, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	stored, err := repos.User.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.APIKeyLastUsedAt)
}

func TestAPIKeyAuthRejectsInactiveUsers(t *testing.T) {
	repos := repository.NewRepositories(dbtest.New(t))
	user, key := seedUser(t, repos, "gone@example.com", nil)
	user.Status = models.STATUS_DISABLED
	require.NoError(t, repos.User.Update(context.Background(), user))

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("X-API-Key", key)
	resp, err := newApp(repos).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestRequireAdmin(t *testing.T) {
	repos := repository.NewRepositories(dbtest.New(t))
	_, userKey := seedUser(t, repos, "user@example.com", nil)
	_, adminKey := seedUser(t, repos, "admin@example.com", models.AdminProfile{})
	app := newApp(repos)

	req := httptest.NewRequest("GET", "/api/admin", nil)
	req.Header.Set("X-API-Key", userKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/admin", nil)
	req.Header.Set("X-API-Key", adminKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCronSecret(t *testing.T) {
	app := newApp(repository.NewRepositories(dbtest.New(t)))

	req := httptest.NewRequest("POST", "/cron", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("POST", "/cron", nil)
	req.Header.Set("X-Cron-Secret", "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	disabled := fiber.New()
	disabled.Post("/cron", CronSecret(""), func(c *fiber.Ctx) error { return nil })
	resp, err = disabled.Test(httptest.NewRequest("POST", "/cron", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
