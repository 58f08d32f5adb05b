// Package platform wires every domain package into a single runnable
// instance: it opens the database (Postgres, or an embedded SQLite
// file in lite mode), constructs each store, and assembles the
// engines that depend on them in the order the gateway facade needs.
package platform

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/aperturecloud/llmgateway/internal/config"
	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/analytics"
	"github.com/aperturecloud/llmgateway/pkg/bot"
	"github.com/aperturecloud/llmgateway/pkg/bothealth"
	"github.com/aperturecloud/llmgateway/pkg/breaker"
	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/credential"
	"github.com/aperturecloud/llmgateway/pkg/eventbus"
	"github.com/aperturecloud/llmgateway/pkg/gateway"
	"github.com/aperturecloud/llmgateway/pkg/notify"
	"github.com/aperturecloud/llmgateway/pkg/provider"
	"github.com/aperturecloud/llmgateway/pkg/ratelimit"
	"github.com/aperturecloud/llmgateway/pkg/router"
	"github.com/aperturecloud/llmgateway/pkg/supervisor"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
	"github.com/aperturecloud/llmgateway/pkg/usage"
)

// liteDataDir is where the embedded SQLite database and any other
// on-disk lite-mode state lives.
const liteDataDir = "data"

// Platform holds every wired subsystem cmd/gateway needs to serve
// traffic and run the admin/control surface.
type Platform struct {
	DB  *sql.DB // nil in lite mode
	Cfg *config.Config
	Clk clock.Clock

	Tenants     tenant.Store
	Providers   provider.Store
	Bots        bot.Store
	Credentials *credential.Pool
	Breaker     *breaker.Breaker
	RateLimit   *ratelimit.Engine
	Router      *router.Router
	Dispatch    *provider.Registry
	Gateway     *gateway.Gateway
	Usage       *usage.Tracker
	UsageStore  usage.Store
	Alerts      *alert.Engine
	Notify      *notify.Pipeline
	BotHealth   *bothealth.Checker
	HealthLog   bothealth.Store
	Supervisor  *supervisor.Supervisor
	Analytics   *analytics.Aggregator
	Events      *eventbus.Bus

	Redis *redis.Client // nil if REDIS_URL resolution failed or wasn't needed
}

// Bootstrap opens the database, builds every store, and assembles the
// engines in dependency order: tenants and providers first, then the
// engines that guard a call (breaker, rate limiter), then the router
// and gateway facade, then the side systems (usage, alerts, notify,
// supervisor, analytics, event bus).
func Bootstrap(ctx context.Context, cfg *config.Config) (*Platform, error) {
	clk := clock.Real{}

	db, usageStore, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := &Platform{DB: db, Cfg: cfg, Clk: clk, UsageStore: usageStore, Events: eventbus.New()}
	p.Redis = dialRedis(cfg.RedisURL)

	if err := p.wireStores(ctx); err != nil {
		return nil, err
	}
	p.wireEngines(cfg)
	p.wireNotify(cfg)
	p.wireSupervisor(cfg)
	p.Analytics = analytics.New(p.UsageStore, clk)

	p.Alerts.SetEvents(busAdapter{p.Events})
	p.Supervisor.SetEvents(busAdapter{p.Events})

	return p, nil
}

// busAdapter lets pkg/alert and pkg/supervisor broadcast onto
// pkg/eventbus without either importing it directly: each package
// declares its own narrow EventPublisher interface, and this adapter
// is the only thing that knows both shapes.
type busAdapter struct {
	bus *eventbus.Bus
}

func (a busAdapter) PublishAlert(tenantID string, alrt *alert.Alert) {
	a.bus.Publish(eventbus.Event{Topic: "alert.created", TenantID: tenantID, Payload: alrt})
}

func (a busAdapter) PublishHealth(tenantID string, result supervisor.TickResult) {
	a.bus.Publish(eventbus.Event{Topic: "bot.health", TenantID: tenantID, Payload: result})
}

// openDatabase connects to Postgres when DATABASE_URL/LiteMode says
// to, otherwise falls back to an embedded SQLite file under
// liteDataDir. It also constructs and initializes the usage store,
// since that is the one store backed by a hand-written SQLite path
// rather than sharing the Postgres-only schema the other domain
// stores use.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, usage.Store, error) {
	if cfg.LiteMode {
		return openLiteMode(ctx)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("platform: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("platform: ping postgres: %w", err)
	}
	slog.Info("platform: connected to postgres")

	us := usage.NewPostgresStore(db)
	if err := us.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("platform: init usage store: %w", err)
	}
	return db, us, nil
}

func openLiteMode(ctx context.Context) (*sql.DB, usage.Store, error) {
	if err := os.MkdirAll(liteDataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("platform: create lite data dir: %w", err)
	}
	dbPath := filepath.Join(liteDataDir, "gateway.db")
	slog.Info("platform: lite mode", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("platform: open sqlite: %w", err)
	}

	us := usage.NewSQLiteStore(db)
	if err := us.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("platform: init sqlite usage store: %w", err)
	}
	return db, us, nil
}

// wireStores constructs every domain store. In lite mode these are
// in-process MemoryStores: the "Shared in-process state is
// process-local" allowance covers a single-node dev deployment, and
// standing up seven more SQLite tables for a mode meant to get a
// developer running in one command isn't worth the schema-maintenance
// burden. Usage is the exception — its ledger is the one piece of
// state a developer actually wants to survive a restart, so it always
// persists (see openDatabase/openLiteMode).
//
// Rate-limit windows are the one store that prefers Redis over
// whatever else is running: a replica pool must share per-minute
// counters in something faster than a round trip to Postgres, so
// p.rateLimitStore() picks Redis whenever it's reachable, regardless
// of lite mode.
func (p *Platform) wireStores(ctx context.Context) error {
	if p.DB == nil {
		p.Tenants = tenant.NewMemoryStore()
		p.Providers = provider.NewMemoryStore()
		p.Bots = bot.NewMemoryStore()
		p.HealthLog = bothealth.NewMemoryStore()
		credStore := credential.NewMemoryStore()
		p.Credentials = credential.NewPool(credStore, p.Clk, p.alertFunc())
		p.RateLimit = ratelimit.New(p.Tenants, p.UsageStore, p.rateLimitStore(), p.Clk, ratelimit.DefaultLimits())
		alertStore := alert.NewMemoryStore()
		p.Alerts = alert.New(alertStore, p.Tenants, p.UsageStore, nil, p.Clk)
		return nil
	}

	tenants := tenant.NewPostgresStore(p.DB)
	if err := tenants.Init(ctx); err != nil {
		return fmt.Errorf("platform: init tenant store: %w", err)
	}
	p.Tenants = tenants

	providers := provider.NewPostgresStore(p.DB)
	if err := providers.Init(ctx); err != nil {
		return fmt.Errorf("platform: init provider store: %w", err)
	}
	p.Providers = providers

	bots := bot.NewPostgresStore(p.DB)
	if err := bots.Init(ctx); err != nil {
		return fmt.Errorf("platform: init bot store: %w", err)
	}
	p.Bots = bots

	healthLog := bothealth.NewPostgresStore(p.DB)
	if err := healthLog.Init(ctx); err != nil {
		return fmt.Errorf("platform: init bot health store: %w", err)
	}
	p.HealthLog = healthLog

	credStore, err := credential.NewPostgresStore(p.DB, credentialEncryptionKey())
	if err != nil {
		return fmt.Errorf("platform: init credential store: %w", err)
	}
	if err := credStore.Init(ctx); err != nil {
		return fmt.Errorf("platform: init credential schema: %w", err)
	}
	p.Credentials = credential.NewPool(credStore, p.Clk, p.alertFunc())

	rlStore := p.rateLimitStore()
	if pg, ok := rlStore.(*ratelimit.PostgresStore); ok {
		if err := pg.Init(ctx); err != nil {
			return fmt.Errorf("platform: init rate limit store: %w", err)
		}
	}
	p.RateLimit = ratelimit.New(p.Tenants, p.UsageStore, rlStore, p.Clk, ratelimit.DefaultLimits())

	alertStore := alert.NewPostgresStore(p.DB)
	if err := alertStore.Init(ctx); err != nil {
		return fmt.Errorf("platform: init alert store: %w", err)
	}
	p.Alerts = alert.New(alertStore, p.Tenants, p.UsageStore, nil, p.Clk)

	return nil
}

// wireEngines builds the breaker, dispatch registry, usage tracker,
// gateway facade and router. The router needs the gateway as its
// ActiveCounter and the gateway needs the router to dispatch through,
// so the gateway is built first with no router and the router is
// wired into it once constructed (gateway.SetRouter).
func (p *Platform) wireEngines(cfg *config.Config) {
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenTimeout:  cfg.BreakerHalfOpenTimeout,
	}
	p.Breaker = breaker.New(breakerCfg, p.Clk, p.Providers)

	p.Dispatch = provider.NewRegistry()
	p.Usage = usage.New(p.UsageStore, p.Providers, p.Alerts, p.Clk)

	p.Gateway = gateway.New(p.RateLimit, nil, p.Providers, p.Dispatch, p.Breaker, p.Credentials, p.Usage, p.Clk)
	p.Router = router.New(p.Providers, p.Tenants, p.Breaker, p.RateLimit, p.Gateway)
	p.Gateway.SetRouter(p.Router)

	p.BotHealth = bothealth.New(p.Bots, &bothealth.StoreRoundTripProber{}, p.Clk)
}

// wireNotify builds the notification pipeline and plugs it into the
// alert engine as its Notifier. Channel transports (SMTP, WhatsApp,
// webhook) are registered by cmd/gateway once their credentials are
// available; here we only wire the throttle/schedule/template layer
// so alerts raised during bootstrap aren't silently dropped.
func (p *Platform) wireNotify(cfg *config.Config) {
	configs := notify.NewMemoryConfigStore()
	var throttle notify.ThrottleStore
	if p.Redis != nil {
		throttle = notify.NewRedisThrottleStore(p.Redis)
	} else {
		throttle = notify.NewMemoryThrottleStore()
	}
	p.Notify = notify.New(configs, throttle, p.Clk)
	p.Alerts.SetNotifier(p.Notify)
}

// redisPingTimeout bounds the startup reachability check so a
// misconfigured or unreachable Redis never hangs process start.
const redisPingTimeout = 2 * time.Second

// wireSupervisor assembles the health-check/auto-heal loop. Restart is
// a LoggingRestarter until a real process/container supervisor is
// wired underneath it.
func (p *Platform) wireSupervisor(cfg *config.Config) {
	p.Supervisor = supervisor.New(p.Tenants, p.Bots, p.BotHealth, p.HealthLog,
		p.Alerts, supervisor.LoggingRestarter{}, p.Clk)
}

// rateLimitStore picks the Store backing per-minute window counters:
// Redis when reachable (shared across replicas), otherwise Postgres in
// normal mode or an in-process MemoryStore in lite mode.
func (p *Platform) rateLimitStore() ratelimit.Store {
	if p.Redis != nil {
		return ratelimit.NewRedisStore(p.Redis)
	}
	if p.DB == nil {
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewPostgresStore(p.DB)
}

func (p *Platform) alertFunc() credential.AlertFunc {
	return func(ctx context.Context, alertType, severity, message string) {
		slog.Warn("credential", "type", alertType, "severity", severity, "message", message)
	}
}

func credentialEncryptionKey() []byte {
	key := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if key == "" {
		slog.Warn("platform: CREDENTIAL_ENCRYPTION_KEY not set, generating an ephemeral key (stored credentials will not decrypt after a restart)")
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			slog.Error("platform: generate ephemeral credential key", "error", err)
		os.Exit(1)
		}
		return b
	}
	return []byte(key)
}

func dialRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("platform: invalid REDIS_URL, falling back to in-process throttle state", "error", err)
		return nil
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("platform: redis unreachable, falling back to in-process throttle state", "error", err)
		return nil
	}
	return client
}

// Close releases the database handle and any other closable resource.
func (p *Platform) Close() error {
	if p.Supervisor != nil {
		p.Supervisor.Stop()
	}
	if p.Redis != nil {
		_ = p.Redis.Close()
	}
	if p.DB != nil {
		return p.DB.Close()
	}
	return nil
}
