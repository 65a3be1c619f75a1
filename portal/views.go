package portal

import (
	"embed"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
)

//go:embed views
var viewsFS embed.FS

// NewEngine returns the django view engine. An empty dir serves the
// embedded templates, otherwise templates are read from dir. reload parses
// templates on every render.
func NewEngine(dir string, reload bool) *django.Engine {
	var engine *django.Engine
	if dir != "" {
		engine = django.New(dir, ".html")
	} else {
		engine = django.NewPathForwardingFileSystem(http.FS(viewsFS), "/views", ".html")
	}

	for name, fn := range auth.TemplateHelpers() {
		engine.AddFunc(name, fn)
	}
	engine.Reload(reload)

	return engine
}

// NewServer returns the fiber backed router server. Views are rendered
// with the portal error handler and the flash middleware is installed, so
// routes registered afterwards can answer with flash messages.
func NewServer(views fiber.Views, logger auth.Logger) router.Server[*fiber.App] {
	if logger == nil {
		logger = auth.DefaultLogger()
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "portal",
			UnescapePath:      true,
			StrictRouting:     false,
			Views:             views,
			PassLocalsToViews: true,
			ErrorHandler:      ErrorHandler(logger),
		}))
	})

	srv.Router().WithLogger(logger)
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	return srv
}

// ErrorHandler renders errors that reach fiber. Rich errors keep their
// status and text code, unmatched routes render the not found page.
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := auth.StatusCode(err)
		message := err.Error()

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Message != "" {
			message = richErr.Message
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			message = fiberErr.Message
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			message = "An unexpected server error occurred"
		}

		view := "error"
		data := fiber.Map{"status": status, "error": message}
		if status == fiber.StatusNotFound {
			view = "not_found"
			data["error"] = "page not found"
			data["path"] = c.Path()
		}

		c.Status(status)
		if wantsJSONHeader(c.Get(fiber.HeaderContentType), c.Get(fiber.HeaderAccept)) {
			return c.JSON(fiber.Map{
				"error":     data["error"],
				"text_code": auth.TextCode(err),
			})
		}

		if renderErr := c.Render(view, data); renderErr != nil {
			logger.Error("render error page", "error", renderErr)
			return c.SendString(message)
		}
		return nil
	}
}

func wantsJSONHeader(contentType, accept string) bool {
	if strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		return true
	}
	return strings.Contains(accept, fiber.MIMEApplicationJSON) && !strings.Contains(accept, fiber.MIMETextHTML)
}
