// Package httpapi exposes the credential authority over HTTP. Request and
// response bodies follow the wire contract of the engine: protocol messages
// travel as standard base64 inside small JSON payloads, responses come back
// as bare base64 text.
package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	opaqueauth "github.com/tomvardasca/opaque-authd"
)

// Server wraps a fiber application around one engine.
type Server struct {
	app    *fiber.App
	engine *opaqueauth.Engine
}

// NewServer builds the fiber app, middleware, and route table.
func NewServer(engine *opaqueauth.Engine) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "opaque-authd",
		DisableStartupMessage: true,
		BodyLimit:             4 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	s := &Server{
		app:    app,
		engine: engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Post("/register/start", s.registerStart)
	s.app.Post("/register/end", s.registerFinish)
	s.app.Get("/register/confirm/:username", s.confirmMail)
	s.app.Post("/login/start", s.loginStart)
	s.app.Post("/login/end", s.loginFinish)
}

// App exposes the underlying fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
