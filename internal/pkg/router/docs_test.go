package router

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SignalFox/app/models"
)

const openAPIFile = "../../../" + DefaultOpenAPIFile

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

// docPath turns a fiber route pattern into its OpenAPI path template.
func docPath(route string) string {
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
	}
	parts := strings.Split(route, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + strings.TrimSuffix(p[1:], "?") + "}"
		}
	}
	return strings.Join(parts, "/")
}

func responseSchema(t *testing.T, doc *openapi3.T, method, path string, status int) *openapi3.Schema {
	t.Helper()
	item := doc.Paths.Find(path)
	require.NotNil(t, item, path)
	op := item.GetOperation(method)
	require.NotNil(t, op, method+" "+path)
	resp := op.Responses.Status(status)
	require.NotNil(t, resp, "%s %s %d", method, path, status)
	media := resp.Value.Content.Get("application/json")
	require.NotNil(t, media)
	return media.Schema.Value
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc := loadOpenAPI(t)
	s := newTestServer(t)

	for _, r := range s.app.GetRoutes(true) {
		if r.Method == fiber.MethodHead {
			continue
		}
		p := docPath(r.Path)
		item := doc.Paths.Find(p)
		if !assert.NotNil(t, item, "undocumented path %s", p) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "undocumented operation %s %s", r.Method, p)
	}
}

func TestOpenAPIResponsesMatchHandlers(t *testing.T) {
	doc := loadOpenAPI(t)
	s := newTestServer(t)
	_, key := s.user(t, "docs@example.com", "", nil)

	status, body := s.do(t, "GET", "/api/v1/plans", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.NoError(t, responseSchema(t, doc, "GET", "/api/v1/plans", 200).VisitJSON(body))

	status, body = s.do(t, "GET", "/api/v1/subscription", key, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.NoError(t, responseSchema(t, doc, "GET", "/api/v1/subscription", 200).VisitJSON(body))

	status, body = s.do(t, "POST", "/api/v1/checkout", key, fiber.Map{"plan_id": "monthly", "provider": models.ProviderWallet})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.NoError(t, responseSchema(t, doc, "POST", "/api/v1/checkout", 201).VisitJSON(body))

	status, body = s.do(t, "GET", "/api/v1/partner/commission", key, nil)
	require.Equal(t, fiber.StatusConflict, status)
	assert.NoError(t, responseSchema(t, doc, "GET", "/api/v1/partner/commission", 409).VisitJSON(body))
}

func TestInstallDocs(t *testing.T) {
	app := fiber.New()
	require.True(t, InstallDocs(app, openAPIFile))

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/api/v1", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.False(t, InstallDocs(fiber.New(), "does/not/exist.yml"))
}
