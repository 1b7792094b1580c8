package receptionist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/bobbys-table/internal/log"
	"github.com/teslashibe/bobbys-table/pkg/calendar"
	"github.com/teslashibe/bobbys-table/pkg/charge"
	"github.com/teslashibe/bobbys-table/pkg/dispatch"
	"github.com/teslashibe/bobbys-table/pkg/memory"
	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/notify"
	"github.com/teslashibe/bobbys-table/pkg/order"
	"github.com/teslashibe/bobbys-table/pkg/payment"
	"github.com/teslashibe/bobbys-table/pkg/paysession"
	"github.com/teslashibe/bobbys-table/pkg/scheduler"
	"github.com/teslashibe/bobbys-table/pkg/store"
	"github.com/teslashibe/bobbys-table/pkg/swml"
	"github.com/teslashibe/bobbys-table/pkg/tools"
)

// Option overrides a component built by New.
type Option func(*options)

type options struct {
	gateway   charge.Gateway
	smsSender notify.Sender
	store     *store.Store
	now       func() time.Time
	logger    *slog.Logger
}

// WithGateway uses g instead of Stripe.
func WithGateway(g charge.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithSMSSender uses s as the fallback SMS sender instead of SignalWire REST.
func WithSMSSender(s notify.Sender) Option {
	return func(o *options) { o.smsSender = s }
}

// WithStore uses an already opened store.
func WithStore(s *store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock overrides time.Now everywhere.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// App holds every component of the running service.
type App struct {
	Config   Config
	Location *time.Location
	Profile  swml.Profile

	Store      *store.Store
	Sessions   *paysession.Sessions
	Memory     *memory.Memory
	Menu       *menu.Cache
	Gateway    charge.Gateway
	SMS        *notify.Gateway
	Templates  *notify.Templates
	Links      *notify.LinkSigner
	Hub        *calendar.Hub
	Calendar   *calendar.Notifier
	Google     *calendar.GoogleMirror
	Scheduler  *scheduler.Scheduler
	Tools      *tools.Registry
	Dispatcher *dispatch.Dispatcher
	Payments   *payment.Processor

	now      func() time.Time
	logger   *slog.Logger
	ownStore bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds the service from cfg. Optional integrations that are not
// configured are left out with a warning.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Component("receptionist")
	}

	a := &App{
		Config:   cfg,
		Location: cfg.Location(),
		now:      o.now,
		logger:   o.logger,
	}

	profile, err := swml.LoadProfile(cfg.AgentProfile)
	if err != nil {
		return nil, err
	}
	a.Profile = profile.WithTimezone(cfg.LocalTZ)

	a.Store = o.store
	if a.Store == nil {
		a.ownStore = true
		a.Store, err = store.Open(cfg.DatabaseURL, store.WithLocation(a.Location), store.WithClock(o.now))
		if err != nil {
			return nil, err
		}
	}

	if err := a.buildSessions(); err != nil {
		a.Close()
		return nil, err
	}

	var memOpts []memory.Option
	if cfg.MemoryPath != "" {
		memOpts = append(memOpts, memory.WithStore(memory.NewJSONStore(cfg.MemoryPath)))
	}
	a.Memory = memory.New(memOpts...)
	a.Menu = menu.NewCache(a.Store, menu.WithClock(o.now))

	if err := a.buildGateway(o.gateway); err != nil {
		a.Close()
		return nil, err
	}
	a.buildNotify(o.smsSender)
	a.buildCalendar()
	a.buildScheduler()

	a.Tools = tools.Catalog(&tools.Deps{
		Menu:      a.Menu,
		Memory:    a.Memory,
		Sessions:  a.Sessions,
		Store:     a.Store,
		Assembler: order.NewAssembler(),
		SMS:       a.SMS,
		Templates: a.Templates,
		Calendar:  a.Calendar,
		Payments: tools.PaymentURLs{
			Connector: cfg.ConnectorURL(),
			Status:    cfg.StatusURL(),
		},
		Currency:      "usd",
		ManagerNumber: cfg.ManagerNumber,
		Location:      a.Location,
		Now:           o.now,
	})
	a.Dispatcher = dispatch.New(a.Tools, a.Memory, a.Sessions,
		dispatch.WithWebhookURL(cfg.WebhookURL()),
		dispatch.WithProfile(a.Profile),
		dispatch.WithClock(o.now))
	a.Payments = payment.New(payment.Deps{
		Gateway:   a.Gateway,
		Store:     a.Store,
		Sessions:  a.Sessions,
		Memory:    a.Memory,
		SMS:       a.SMS,
		Templates: a.Templates,
		Calendar:  a.Calendar,
	}, payment.WithClock(o.now), payment.WithPublishableKey(cfg.StripePublishableKey))

	a.logger.Info("receptionist ready",
		"database", redactDSN(cfg.DatabaseURL),
		"sessions", cfg.SessionBackend,
		"stripe_test_mode", a.Gateway.TestMode(),
		"sms_rest", cfg.SMSConfigured(),
		"google_calendar", a.Google != nil,
		"tools", len(a.Tools.Names()))
	return a, nil
}

func (a *App) buildSessions() error {
	var backend paysession.Store = paysession.NewMemoryStore()
	if a.Config.SessionBackend == SessionsDB {
		db, err := paysession.NewDBStore(a.Store.DB())
		if err != nil {
			return fmt.Errorf("receptionist: payment sessions: %w", err)
		}
		backend = db
	}
	a.Sessions = paysession.New(backend, paysession.WithClock(a.now))
	return nil
}

func (a *App) buildGateway(override charge.Gateway) error {
	switch {
	case override != nil:
		a.Gateway = override
	case a.Config.StripeAPIKey != "":
		s, err := charge.NewStripe(a.Config.StripeAPIKey, charge.WithWebhookSecret(a.Config.StripeWebhookSecret))
		if err != nil {
			return fmt.Errorf("receptionist: stripe: %w", err)
		}
		a.Gateway = s
	default:
		a.logger.Warn("STRIPE_API_KEY not set, payments use the built-in test gateway")
		fake := charge.NewFake()
		fake.Secret = a.Config.StripeWebhookSecret
		a.Gateway = fake
	}
	return nil
}

func (a *App) buildNotify(override notify.Sender) {
	if a.Config.CalendarLinkSecret != "" && a.Config.BaseURL != "" {
		links, err := notify.NewLinkSigner(a.Config.BaseURL, a.Config.CalendarLinkSecret)
		if err == nil {
			links.SetClock(a.now)
			a.Links = links
		}
	}
	a.Templates = notify.NewTemplates(a.Links)
	a.Templates.Phone = a.Config.RestaurantPhone

	var gwOpts []notify.GatewayOption
	switch {
	case override != nil:
		gwOpts = append(gwOpts, notify.WithSender(override))
	case a.Config.SMSConfigured():
		rest, err := notify.NewRESTSender(notify.RESTConfig{
			Space:     a.Config.SignalWireSpace,
			ProjectID: a.Config.SignalWireProjectID,
			Token:     a.Config.SignalWireToken,
		})
		if err != nil {
			a.logger.Warn("SMS REST fallback disabled", "error", err)
		} else {
			gwOpts = append(gwOpts, notify.WithSender(rest))
		}
	default:
		a.logger.Warn("SignalWire credentials not set, SMS only goes out through call actions")
	}
	a.SMS = notify.NewGateway(a.Config.FromNumber, gwOpts...)
}

func (a *App) buildCalendar() {
	a.Hub = calendar.NewHub(nil)
	notifierOpts := []calendar.NotifierOption{calendar.WithPublisher(a.Hub)}
	if a.Config.GoogleConfigured() {
		redirect := ""
		if a.Config.BaseURL != "" {
			redirect = a.Config.BaseURL + "/api/google/callback"
		}
		m, err := calendar.NewGoogleMirror(calendar.GoogleConfig{
			ClientID:     a.Config.GoogleClientID,
			ClientSecret: a.Config.GoogleClientSecret,
			RedirectURL:  redirect,
			CalendarID:   a.Config.GoogleCalendarID,
			TokenPath:    a.Config.GoogleTokenPath,
			Location:     a.Location,
		})
		if err != nil {
			a.logger.Warn("google calendar mirror disabled", "error", err)
		} else {
			a.Google = m
			notifierOpts = append(notifierOpts, calendar.WithMirror(m))
		}
	}
	a.Calendar = calendar.NewNotifier(notifierOpts...)
}

func (a *App) buildScheduler() {
	a.Scheduler = scheduler.New(scheduler.WithClock(a.now))
	for _, j := range []scheduler.Job{
		scheduler.PaymentSweep(a.Sessions),
		scheduler.MemoryPrune(a.Memory, scheduler.MemoryInactive),
	} {
		if err := a.Scheduler.Add(j); err != nil {
			a.logger.Error("scheduler job not added", "job", j.Name, "error", err)
		}
	}
}

// SeedMenu loads the built-in menu and drops the cached copy.
func (a *App) SeedMenu(ctx context.Context) (int, error) {
	items, err := store.DefaultMenu()
	if err != nil {
		return 0, err
	}
	n, err := a.Store.SeedMenu(ctx, items)
	if err != nil {
		return 0, err
	}
	a.Menu.Invalidate()
	a.logger.Info("menu seeded", "added", n, "items", len(items))
	return n, nil
}

// Start runs the calendar hub and the scheduler until Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Hub.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Scheduler.Run(ctx)
	}()
}

// Cleanup sweeps payment sessions and prunes idle conversations now.
func (a *App) Cleanup(ctx context.Context) (paysession.SweepResult, int, error) {
	now := a.now()
	swept, err := a.Sessions.Sweep(ctx, now)
	if err != nil {
		return swept, 0, err
	}
	pruned := a.Memory.PruneInactive(scheduler.MemoryInactive, now)
	return swept, pruned, nil
}

// Now returns the service clock.
func (a *App) Now() time.Time {
	return a.now()
}

// Close stops background work and releases resources.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.Calendar.Wait()
	if a.Hub != nil {
		a.Hub.Wait()
	}

	var errs []error
	if a.Memory != nil {
		errs = append(errs, a.Memory.Close())
	}
	if a.Store != nil && a.ownStore {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// redactDSN keeps credentials out of the startup log.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme+3 > at {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
