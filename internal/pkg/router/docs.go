package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const DefaultOpenAPIFile = "public/docs/v1/openapi.yml"

// InstallDocs serves the OpenAPI document and its UI under /docs/api/v1. A
// missing document is logged and the docs are skipped.
func InstallDocs(app *fiber.App, filePath string) bool {
	if _, err := os.Stat(filePath); err != nil {
		log.Warnf("[Docs] OpenAPI document not available at %s: %v", filePath, err)
		return false
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: filePath,
		Path:     "v1",
		Title:    "SignalFox API",
	}))
	return true
}
