// Command portal serves the multi-role assessment portal.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/activitylog"
	redisadapter "github.com/goliatone/go-portal-auth/adapters/redis"
	"github.com/goliatone/go-portal-auth/adapters/sendgrid"
	"github.com/goliatone/go-portal-auth/assessment"
	"github.com/goliatone/go-portal-auth/config"
	"github.com/goliatone/go-portal-auth/middleware/csrf"
	"github.com/goliatone/go-portal-auth/portal"
	"github.com/goliatone/go-portal-auth/provider/gotrue"
	"github.com/goliatone/go-portal-auth/provider/local"
	"github.com/goliatone/go-portal-auth/tenant"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// App holds the services wired at startup.
type App struct {
	config   *config.Config
	logger   loggerProvider
	db       *bun.DB
	repo     auth.RepositoryManager
	redis    goredis.UniversalClient
	notifier auth.SessionNotifier
	provider auth.IdentityProvider
	registry *auth.Registry
	contexts *tenant.Contexts
	logs     *activitylog.Store
	catalog  assessment.Catalog
	runner   *assessment.Runner
	auther   *auth.RouteAuthenticator
	srv      router.Server[*fiber.App]

	// background loops started by Run
	workers []func(ctx context.Context) error
	closers []func()
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) SetDB(db *bun.DB) {
	a.db = db
}

func (a *App) SetRepository(repo auth.RepositoryManager) {
	a.repo = repo
}

func (a *App) SetProvider(provider auth.IdentityProvider) {
	a.provider = provider
}

func (a *App) SetHTTPServer(srv router.Server[*fiber.App]) {
	a.srv = srv
}

func (a *App) goWorker(fn func(ctx context.Context) error) {
	a.workers = append(a.workers, fn)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "portal: "+err.Error())
		os.Exit(1)
	}

	app := &App{
		config: &cfg,
		logger: newLogger(cfg.Dev),
	}

	if cfg.Dev {
		fmt.Println("============")
		fmt.Println(print.MaybePrettyJSON(redacted(cfg)))
		fmt.Println("============")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithNotifier,
		WithIdentityProvider,
		WithSessions,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.GetLogger("app").Error("startup failed", "error", err)
			app.close()
			os.Exit(1)
		}
	}

	if err := app.Run(ctx); err != nil {
		app.GetLogger("app").Error("portal stopped", "error", err)
		app.close()
		os.Exit(1)
	}
	app.close()
}

// Run serves HTTP and runs the background loops until ctx is done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.GetLogger("app").Info("listening", "addr", a.config.Addr)
		return a.srv.Serve(a.config.Addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	for _, worker := range a.workers {
		g.Go(func() error {
			if err := worker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// WithPersistence opens the database and applies migrations.
func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.Config().DB

	var db *bun.DB
	switch cfg.Driver {
	case config.DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "open postgres")
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "open sqlite")
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(queryLogger{logger: app.GetLogger("db")})
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "ping database")
	}

	if err := auth.Migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		db.Close()
		return err
	}

	app.SetDB(db)
	app.SetRepository(repo)
	app.onClose(func() { db.Close() })
	return nil
}

// WithNotifier fans session changes out locally, and through redis when
// REDIS_ADDR is set so every instance sees them.
func WithNotifier(ctx context.Context, app *App) error {
	cfg := app.Config().Redis
	fanout := auth.NewBroadcaster()

	if !cfg.Enabled() {
		app.notifier = fanout
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return goerrors.Wrap(err, goerrors.CategoryOperation, "ping redis")
	}

	notifier := redisadapter.NewNotifier(client,
		redisadapter.WithChannel(cfg.Channel),
		redisadapter.WithLogger(app.GetLogger("notifier")),
		redisadapter.WithLocal(fanout),
	)

	app.redis = client
	app.notifier = notifier
	app.goWorker(notifier.Run)
	app.onClose(func() { client.Close() })
	return nil
}

// WithIdentityProvider builds the provider selected by IDP_MODE.
func WithIdentityProvider(_ context.Context, app *App) error {
	cfg := app.Config()
	logger := app.GetLogger("provider")

	switch cfg.Provider.Mode {
	case config.ProviderGoTrue:
		provider, err := gotrue.New(gotrue.Config{
			URL:       cfg.Provider.URL,
			APIKey:    cfg.Provider.APIKey,
			JWTSecret: cfg.Provider.JWTSecret,
			JWKSURL:   cfg.Provider.JWKSURL,
			Issuer:    cfg.Provider.Issuer,
			Timeout:   cfg.Provider.Timeout,
		},
			gotrue.WithNotifier(app.notifier),
			gotrue.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		app.SetProvider(provider)
		app.onClose(provider.Close)
	default:
		tokens := auth.NewTokenService(cfg, auth.WithTokenLogger(app.GetLogger("tokens")))
		provider := local.New(local.NewAccountsRepository(app.db), tokens,
			local.WithNotifier(app.notifier),
			local.WithLogger(logger),
			local.WithMaxLoginAttempts(cfg.Auth.MaxLoginAttempts),
			local.WithCoolDown(cfg.Auth.CoolDown),
			local.WithHashidIDs(cfg.Auth.HashidIDs),
		)
		app.SetProvider(provider)
		app.goWorker(func(ctx context.Context) error {
			return provider.Run(ctx, cfg.Provider.SweepInterval)
		})
	}

	app.GetLogger("app").Info("identity provider ready", "mode", cfg.Provider.Mode)
	return nil
}

// WithSessions wires the session registry, tenant contexts, activity log and
// assessment runner.
func WithSessions(_ context.Context, app *App) error {
	cfg := app.Config()

	app.logs = activitylog.NewStore(cfg.Activity.Capacity)

	var inviter tenant.Inviter = tenant.NoopInviter{}
	if cfg.Sendgrid.Enabled() {
		inviter = sendgrid.NewInviter(sendgrid.Config{
			APIKey:    cfg.Sendgrid.APIKey,
			FromName:  cfg.Sendgrid.FromName,
			FromEmail: cfg.Sendgrid.FromEmail,
			AcceptURL: cfg.Sendgrid.AcceptURL,
		}, app.GetLogger("invites"))
	}

	app.contexts = tenant.NewContexts(
		tenant.WithStore(tenant.NewBunStore(app.db)),
		tenant.WithInviter(inviter),
		tenant.WithActivitySink(app.logs),
		tenant.WithLogger(app.GetLogger("tenant")),
	)

	profiles := app.repo.Profiles()
	machineLogger := app.GetLogger("session")

	app.registry = auth.NewRegistry(func(id string) *auth.Machine {
		return auth.NewMachine(app.provider, profiles,
			auth.WithMachineID(id),
			auth.WithMachineLogger(machineLogger),
			auth.WithMachineActivitySink(app.logs),
			auth.WithMachinePhoneRegion(cfg.Auth.PhoneRegion),
		)
	},
		auth.WithRegistryLogger(app.GetLogger("registry")),
		auth.WithRegistryEvictHook(app.contexts.Forget),
	)
	app.goWorker(func(ctx context.Context) error {
		return app.registry.Run(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.IdleTTL)
	})

	app.catalog = assessment.NewStaticCatalog(assessment.DefaultTests()...)
	app.runner = assessment.NewRunner(app.catalog,
		assessment.WithRunnerLogger(app.GetLogger("assessment")),
		assessment.WithRunnerActivitySink(app.logs),
	)
	app.onClose(app.runner.Close)

	auther := auth.NewHTTPAuthenticator(app.registry, cfg)
	auther.SecureCookies = cfg.Auth.SecureCookies
	auther.Logger = app.GetLogger("http")
	app.auther = auther

	return nil
}

// WithHTTPServer builds the router server and mounts the portal routes.
func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.Config()

	engine := portal.NewEngine(cfg.Views, cfg.Dev)
	srv := portal.NewServer(engine, app.GetLogger("server"))

	csrfCfg := csrf.Config{
		Expiration: time.Duration(cfg.Auth.TokenExpiration) * time.Hour,
	}
	switch {
	case cfg.Auth.CSRFKey != "":
		csrfCfg.SecureKey = []byte(cfg.Auth.CSRFKey)
	case app.redis != nil:
		csrfCfg.Storage = redisadapter.NewCSRFStorage(app.redis, "portal:")
	default:
		csrfCfg.Storage = csrf.NewMemoryStorage()
	}

	p := portal.New(app.auther,
		portal.WithTenants(app.contexts),
		portal.WithRunner(app.runner, app.catalog),
		portal.WithActivityLog(app.logs),
		portal.WithProfiles(app.repo.Profiles()),
		portal.WithCSRF(csrf.New(csrfCfg)),
		portal.WithLogger(app.GetLogger("portal")),
		portal.WithDebug(cfg.Dev),
	)
	portal.Register(p, srv.Router())

	app.SetHTTPServer(srv)
	return nil
}

// redacted masks secrets before the config is printed.
func redacted(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.Auth.SigningKey)
	mask(&cfg.Auth.CSRFKey)
	mask(&cfg.Provider.APIKey)
	mask(&cfg.Provider.JWTSecret)
	mask(&cfg.Redis.Password)
	mask(&cfg.Sendgrid.APIKey)
	return cfg
}
