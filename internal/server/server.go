// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"mcp-ckd-meal/internal/classifier"
	"mcp-ckd-meal/internal/config"
	"mcp-ckd-meal/internal/ledger"
	"mcp-ckd-meal/internal/models"
	"mcp-ckd-meal/internal/notify"
	"mcp-ckd-meal/internal/nutrition"
	"mcp-ckd-meal/internal/recognition"
	"mcp-ckd-meal/internal/storage"
)

// bodyLimit leaves room for a base64 camera photo.
const bodyLimit = 16 * 1024 * 1024

// Catalog is the read side of the nutrition reference the tools need.
type Catalog interface {
	nutrition.Lookuper
	Search(ctx context.Context, query string) ([]models.NutrientFacts, error)
	ListAll(ctx context.Context) ([]string, error)
}

// Deps are the collaborators a CKDMealServer is assembled from.
type Deps struct {
	Info       protocol.Implementation
	Recognizer *recognition.Service
	Catalog    Catalog
	Ledger     *ledger.Ledger
	Limits     models.DailyLimits
	// Events, when set, feeds the limit watcher.
	Events *notify.Broadcaster

	Addr      string
	RateLimit int
	AccessLog io.Writer
	Now       func() time.Time
	Closers   []io.Closer
}

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type CKDMealServer struct {
	app  *fiber.App
	info protocol.Implementation
	addr string

	recognizer *recognition.Service
	catalog    Catalog
	ledger     *ledger.Ledger
	limits     models.DailyLimits
	validate   *validator.Validate
	now        func() time.Time
	tools      map[string]toolHandler

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	unsubscribe func()
	watcherDone chan struct{}
	closers     []io.Closer
	stopOnce    sync.Once
}

// NewCKDMealServer opens both databases, starts the classifier backend and
// wires the tool surface.
func NewCKDMealServer(ctx context.Context, cfg *config.Config, info protocol.Implementation) (*CKDMealServer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	static, err := cfg.StaticPredictions()
	if err != nil {
		return nil, err
	}

	catalog, err := nutrition.Open(cfg.Reference.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open nutrition reference: %w", err)
	}

	stor, err := storage.NewSQLiteStorage(cfg.Ledger.DBPath)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	clf := classifier.New(ctx, classifier.Options{
		Backend:       cfg.Classifier.Backend,
		Endpoint:      cfg.Classifier.Endpoint,
		APIKey:        cfg.Classifier.APIKey,
		Timeout:       cfg.Classifier.Timeout,
		Region:        cfg.Classifier.Region,
		MinConfidence: cfg.Classifier.MinConfidence,
		Static:        static,
	})

	events := notify.NewBroadcaster()
	led := ledger.New(stor, ledger.WithLocation(loc), ledger.WithPublisher(events))

	return New(Deps{
		Info:       info,
		Recognizer: recognition.NewService(clf, catalog),
		Catalog:    catalog,
		Ledger:     led,
		Limits:     cfg.Limits,
		Events:     events,
		Addr:       cfg.Addr(),
		RateLimit:  cfg.Server.RateLimit,
		AccessLog:  os.Stdout,
		Closers:    []io.Closer{stor, catalog},
	}), nil
}

func New(d Deps) *CKDMealServer {
	s := &CKDMealServer{
		info:       d.Info,
		addr:       d.Addr,
		recognizer: d.Recognizer,
		catalog:    d.Catalog,
		ledger:     d.Ledger,
		limits:     d.Limits,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        d.Now,
		sessions:   make(map[string]*sessionEntry),
		closers:    d.Closers,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.app = fiber.New(fiber.Config{
		AppName:               d.Info.Name,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	if d.AccessLog != nil {
		s.app.Use(logger.New(logger.Config{Output: d.AccessLog}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type, Authorization",
	}))
	if d.RateLimit > 0 {
		s.app.Use(limiter.New(limiter.Config{
			Max:        d.RateLimit,
			Expiration: time.Second,
		}))
	}

	s.registerTools()

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	s.app.Get("/tools", s.handleListTools)
	s.app.Post("/", s.handleCall)

	if d.Events != nil {
		events, cancel := d.Events.Subscribe(64)
		s.unsubscribe = cancel
		s.watcherDone = make(chan struct{})
		go s.watchLimits(events)
	}

	return s
}

func (s *CKDMealServer) handleCall(c *fiber.Ctx) error {
	var request protocol.CallToolRequest
	if err := json.Unmarshal(c.Body(), &request); err != nil {
		return newToolError(fiber.StatusBadRequest, codeInvalidParams, fmt.Errorf("invalid JSON: %w", err))
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		return newToolError(fiber.StatusNotFound, codeNotFound, fmt.Errorf("unknown tool: %s", request.Name))
	}

	result, err := handler(c.UserContext(), &request)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *CKDMealServer) handleListTools(c *fiber.Ctx) error {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(fiber.Map{
		"server": s.info,
		"tools":  names,
	})
}

// sessionEntry counts the recognitions running on a user's session.
type sessionEntry struct {
	sess   *recognition.Session
	active int
}

// acquireSession returns the user's capture session, creating it on first
// use. The release func must be called once the recognition returns; the
// last release closes the session and drops it from the registry.
func (s *CKDMealServer) acquireSession(userID string) (*recognition.Session, func()) {
	key := ledger.Partition(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[key]
	if !ok {
		e = &sessionEntry{sess: s.recognizer.NewSession()}
		s.sessions[key] = e
	}
	e.active++

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			e.active--
			if e.active == 0 && s.sessions[key] == e {
				e.sess.Close()
				delete(s.sessions, key)
			}
		})
	}
	return e.sess, release
}

func (s *CKDMealServer) activeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// watchLimits logs a warning whenever a ledger change pushes a day over a limit.
func (s *CKDMealServer) watchLimits(events <-chan notify.Event) {
	defer close(s.watcherDone)
	for e := range events {
		p := ledger.Progress(e.Totals, s.limits)
		for name, np := range map[string]models.NutrientProgress{
			"calories":  p.Calories,
			"potassium": p.Potassium,
			"sodium":    p.Sodium,
			"protein":   p.Protein,
		} {
			if np.Exceeded {
				log.Warnf("limits: %s over daily %s limit on %s (%.1f/%.1f)", e.UserID, name, e.Totals.Date, np.Consumed, np.Limit)
			}
		}
	}
}

func (s *CKDMealServer) App() *fiber.App {
	return s.app
}

func (s *CKDMealServer) Start(ctx context.Context) error {
	log.Infof("Starting CKD meal server on %s", s.addr)
	return s.app.Listen(s.addr)
}

func (s *CKDMealServer) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		for key, e := range s.sessions {
			e.sess.Close()
			delete(s.sessions, key)
		}
		s.mu.Unlock()

		if s.unsubscribe != nil {
			s.unsubscribe()
			<-s.watcherDone
		}

		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (s *CKDMealServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
