package app

import (
	"context"
	"fmt"
	"time"

	"github.com/atproject/projectone/internal/app/events"
	"github.com/atproject/projectone/internal/app/health"
	"github.com/atproject/projectone/internal/app/services/accounts"
	"github.com/atproject/projectone/internal/app/services/items"
	"github.com/atproject/projectone/internal/app/services/maintenance"
	"github.com/atproject/projectone/internal/app/storage"
	"github.com/atproject/projectone/internal/app/storage/memory"
	"github.com/atproject/projectone/internal/app/system"
	"github.com/atproject/projectone/internal/config"
	"github.com/atproject/projectone/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to a
// shared in-memory implementation.
type Stores struct {
	Accounts storage.AccountStore
	Items    storage.ItemStore
}

// Options tunes the background components.
type Options struct {
	AllowedOrigins []string
	Maintenance    config.MaintenanceConfig
	HealthTimeout  time.Duration
}

// Application exposes the domain services and owns the service manager.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts    *accounts.Service
	Items       *items.Service
	Events      *events.Hub
	Maintenance *maintenance.Scheduler
	Health      *health.Registry
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Accounts == nil || stores.Items == nil {
		mem := memory.New()
		if stores.Accounts == nil {
			stores.Accounts = mem
		}
		if stores.Items == nil {
			stores.Items = mem
		}
	}

	hub := events.NewHub(opts.AllowedOrigins, log.Named("events"))
	acctService := accounts.New(stores.Accounts, hub, log.Named("accounts"))
	itemService := items.New(stores.Accounts, stores.Items, hub, log.Named("items"))
	scheduler := maintenance.New(itemService, acctService, opts.Maintenance, log.Named("maintenance"))

	manager := system.NewManager(log.Named("system"))
	for _, svc := range []system.Service{
		system.NoopService{ServiceName: "accounts"},
		system.NoopService{ServiceName: "items"},
		hub,
		scheduler,
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Accounts:    acctService,
		Items:       itemService,
		Events:      hub,
		Maintenance: scheduler,
		Health:      health.NewRegistry(opts.HealthTimeout),
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists registered service names in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
