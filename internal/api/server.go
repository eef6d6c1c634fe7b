package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/contacts"
	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/middleware"
	"github.com/fathima-sithara/messaging-service/internal/pipeline"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/registry"
	"github.com/fathima-sithara/messaging-service/internal/relay"
	"github.com/fathima-sithara/messaging-service/internal/store"
)

type Server struct {
	app *fiber.App
	cfg *config.Config
	log *zap.SugaredLogger

	validator *auth.Validator
	registry  *registry.Registry
	relay     *relay.Relay
	pipe      *pipeline.Pipeline
	updater   *contacts.Updater
	presence  *presence.Store // optional, nil when Redis is not configured

	messages     store.MessageStore
	contactStore store.ContactStore
}

type Deps struct {
	Validator    *auth.Validator
	Registry     *registry.Registry
	Relay        *relay.Relay
	Pipeline     *pipeline.Pipeline
	Updater      *contacts.Updater
	Presence     *presence.Store
	Messages     store.MessageStore
	ContactStore store.ContactStore
}

func NewServer(cfg *config.Config, deps Deps, log *zap.SugaredLogger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{
		app:          app,
		cfg:          cfg,
		log:          log,
		validator:    deps.Validator,
		registry:     deps.Registry,
		relay:        deps.Relay,
		pipe:         deps.Pipeline,
		updater:      deps.Updater,
		presence:     deps.Presence,
		messages:     deps.Messages,
		contactStore: deps.ContactStore,
	}

	app.Use(middleware.Recovery(log))
	app.Use(middleware.RequestLogger(log))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// the limiter guards the client-facing surface only; probes and
	// scrapers stay exempt
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, log)
	v1 := app.Group("/v1", limiter.Handler())
	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(s.handleWS))

	v1.Get("/messages", s.requireAuth, s.getHistory)
	v1.Get("/contacts", s.requireAuth, s.listContacts)
	v1.Post("/contacts", s.requireAuth, s.upsertContact)

	return s
}

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }
func (s *Server) Shutdown() error          { return s.app.Shutdown() }

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) requireAuth(c *fiber.Ctx) error {
	tokenStr, err := auth.ParseBearer(c.Get("Authorization"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	userID, err := s.validator.Validate(tokenStr)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals("user_id", userID)
	return c.Next()
}

// getHistory hydrates a conversation: all persisted messages between the
// caller and the peer, ascending by created_at.
func (s *Server) getHistory(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	peer := c.Query("peer")
	if peer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "peer is required"})
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be RFC3339"})
		}
		since = t
	}
	msgs, err := s.messages.FetchHistory(c.Context(), userID, peer, since)
	if err != nil {
		s.log.Errorw("fetch history", "user_id", userID, "peer", peer, "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	// The idempotency token is the sender's retry credential; the caller
	// only gets back the tokens of their own sends.
	for _, m := range msgs {
		if m.SenderID != userID {
			m.Token = ""
		}
	}
	return c.JSON(fiber.Map{"status": "success", "data": msgs})
}

func (s *Server) listContacts(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	list, err := s.contactStore.ListContacts(c.Context(), userID)
	if err != nil {
		s.log.Errorw("list contacts", "user_id", userID, "err", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	if list == nil {
		list = []*store.Contact{}
	}
	return c.JSON(fiber.Map{"status": "success", "data": list})
}

func (s *Server) upsertContact(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	var body struct {
		Peer string `json:"peer"`
	}
	if err := c.BodyParser(&body); err != nil || body.Peer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "peer is required"})
	}
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()
	if err := s.updater.Ensure(ctx, userID, body.Peer); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
	}
	return c.JSON(fiber.Map{"status": "success"})
}
