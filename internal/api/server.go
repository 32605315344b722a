// Package api is the HTTP surface of the grid: device registration and
// heartbeats, the per-device event stream, and generation submission through
// compile, assign and callback.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/comfygrid/comfygrid/client"
	"github.com/comfygrid/comfygrid/internal/db"
	"github.com/comfygrid/comfygrid/internal/devicepool"
	"github.com/comfygrid/comfygrid/internal/events"
	"github.com/comfygrid/comfygrid/internal/tasks"
)

// Store is the slice of the persistence layer the handlers need.  *db.DB
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	UpsertAgent(ctx context.Context, a *db.AgentRow) error
	TouchAgent(ctx context.Context, deviceID string) error
	CreateGeneration(ctx context.Context, g *db.GenerationRow) error
	GetGeneration(ctx context.Context, id string) (*db.GenerationRow, error)
	AssignGeneration(ctx context.Context, id, deviceID string) error
	FinishGeneration(ctx context.Context, id string, result []byte, status string) error
	CreateJob(ctx context.Context, j *db.JobRow) error
}

// Server wires the HTTP handlers to the pool, the event hub, the task
// registry and the compile pipeline.
type Server struct {
	store    Store
	pool     *devicepool.Pool
	hub      *events.Hub
	tasks    *tasks.Registry
	runtime  *client.RuntimeClient
	registry *client.RegistryCache
	validate *validator.Validate

	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewServer creates the API server.  runtime is the reference ComfyUI
// instance whose object_info drives parsing and compilation.
func NewServer(store Store, pool *devicepool.Pool, hub *events.Hub, reg *tasks.Registry, runtime *client.RuntimeClient, cache *client.RegistryCache, jwtSecret []byte) *Server {
	return &Server{
		store:     store,
		pool:      pool,
		hub:       hub,
		tasks:     reg,
		runtime:   runtime,
		registry:  cache,
		validate:  validator.New(),
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/devices", func(r chi.Router) {
			r.Post("/", s.registerDevice)
			r.Get("/", s.listDevices)
			r.With(s.requireDeviceToken).Post("/{deviceID}/status", s.deviceStatus)
			r.With(s.requireDeviceToken).Get("/{deviceID}/events", s.deviceEvents)
		})
		r.Route("/generations", func(r chi.Router) {
			r.Post("/", s.submitGeneration)
			r.Get("/{generationID}", s.getGeneration)
			r.Delete("/{generationID}", s.cancelGeneration)
			r.With(s.requireDeviceToken).Post("/{generationID}/callback", s.generationCallback)
		})
	})

	return r
}

// hubPusher adapts the event hub to the task registry's push contract.
type hubPusher struct {
	hub *events.Hub
}

// NewHubPusher returns a tasks.Pusher backed by the per-device event hub.
func NewHubPusher(hub *events.Hub) tasks.Pusher {
	return hubPusher{hub: hub}
}

func (p hubPusher) PushExec(deviceID string, payload interface{}) error {
	return p.hub.Publish(deviceID, events.Event{Type: events.TypeExec, Payload: payload})
}

func (p hubPusher) PushCancel(deviceID, generationID string) error {
	return p.hub.Publish(deviceID, events.Event{
		Type:    events.TypeCancel,
		Payload: map[string]string{"generationId": generationID},
	})
}
