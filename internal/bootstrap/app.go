package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"

	"meetingapp-backend/internal/applications"
	"meetingapp-backend/internal/generation"
	"meetingapp-backend/internal/ledger"
	"meetingapp-backend/internal/notify"
	"meetingapp-backend/internal/pdf/gs"
	"meetingapp-backend/internal/pdf/merge"
	"meetingapp-backend/internal/pdf/pagecount"
	"meetingapp-backend/internal/pdf/render"
	"meetingapp-backend/internal/queue"
	"meetingapp-backend/internal/registry"
	"meetingapp-backend/internal/services/health"
	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/server"
	"meetingapp-backend/internal/shared/storage/db"
	"meetingapp-backend/internal/shared/storage/object"
	localstore "meetingapp-backend/internal/shared/storage/object/local"
	s3store "meetingapp-backend/internal/shared/storage/object/s3"
	"meetingapp-backend/internal/shared/storage/object/usage"
	"meetingapp-backend/internal/shared/storage/object/yandexdisk"
	"meetingapp-backend/internal/shared/telemetry"
)

const notifierName = "meeting-application-generator"

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Clock      clock.WithDelayedExecution
	Queue      queue.Client
	Inline     *queue.InlineClient
	Storage    *object.Registry
	UsageCache usage.Cache
	Notifier   notify.Notifier
	Renderer   *render.RodRenderer
	Generation *generation.Service
	Handler    *generation.Handler
	Health     *health.Service

	closers []io.Closer
	once    sync.Once
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	telemetry.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	app := &App{Config: cfg, Clock: clock.RealClock{}}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	if sqlDB != nil {
		app.closers = append(app.closers, sqlDB)
	}

	if err := buildQueue(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	if err := buildNotifier(app); err != nil {
		app.Close()
		return nil, err
	}
	if err := buildUsageCache(ctx, app); err != nil {
		app.Close()
		return nil, err
	}
	buildServices(ctx, app)

	app.Health = health.NewService(app.DB)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:     app.Config,
		Generation: app.Handler,
		Health:     app.Health,
	})

	return app, nil
}

// Close releases connections and the browser. It is safe to call twice.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				log.Printf("bootstrap: close: %v", err)
			}
		}
	})
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	// Deployed environments migrate through cmd/migrate.
	if cfg.IsDevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, app *App) error {
	if strings.TrimSpace(app.Config.QueueURL) != "" {
		client, err := queue.NewSQSClient(ctx, app.Config.QueueURL, app.Config.AWSRegion)
		if err != nil {
			return err
		}
		app.Queue = client
		return nil
	}
	if !app.Config.IsDevLike() {
		return errors.New("QUEUE_URL is required")
	}
	log.Printf("bootstrap: QUEUE_URL empty; running jobs in-process")
	app.Inline = queue.NewInlineClient(app.Clock)
	app.Queue = app.Inline
	return nil
}

func buildNotifier(app *App) error {
	if strings.TrimSpace(app.Config.NATSURL) == "" {
		app.Notifier = notify.LogNotifier{}
		return nil
	}
	n, err := notify.NewNATSNotifier(app.Config.NATSURL, notifierName)
	if err != nil {
		if app.Config.IsDevLike() {
			log.Printf("bootstrap: nats unavailable; logging notifications: %v", err)
			app.Notifier = notify.LogNotifier{}
			return nil
		}
		return err
	}
	app.Notifier = n
	app.closers = append(app.closers, n)
	return nil
}

func buildUsageCache(ctx context.Context, app *App) error {
	if strings.TrimSpace(app.Config.RedisURL) == "" {
		app.UsageCache = usage.NewMemoryCache(app.Clock)
		return nil
	}
	cache, err := usage.NewRedisCacheFromURL(ctx, app.Config.RedisURL)
	if err != nil {
		if app.Config.IsDevLike() {
			log.Printf("bootstrap: redis unavailable; using in-memory usage cache: %v", err)
			app.UsageCache = usage.NewMemoryCache(app.Clock)
			return nil
		}
		return err
	}
	app.UsageCache = cache
	app.closers = append(app.closers, cache)
	return nil
}

func buildServices(ctx context.Context, app *App) {
	var (
		appRepo    applications.Repo
		taskRepo   applications.TaskRepo
		sourceRepo applications.SourceRepo
		outputRepo applications.OutputRepo
		ledgerRepo ledger.Repo
		locker     generation.Locker = generation.NoopLocker{}
	)
	if app.DB != nil {
		appRepo = &applications.PGRepo{DB: app.DB}
		taskRepo = &applications.PGTaskRepo{DB: app.DB}
		sourceRepo = &applications.PGSourceRepo{DB: app.DB}
		outputRepo = &applications.PGOutputRepo{DB: app.DB}
		ledgerRepo = &ledger.PGRepo{DB: app.DB}
	} else {
		appRepo = applications.NewMemoryRepo()
		taskRepo = applications.NewMemoryTaskRepo()
		sourceRepo = applications.NewMemorySourceRepo()
		outputRepo = applications.NewMemoryOutputRepo()
		ledgerRepo = ledger.NewMemoryRepo()
	}
	if app.Config.GenerationLock == "postgres" {
		if app.DB != nil {
			locker = &generation.PGLocker{DB: app.DB}
		} else {
			locker = generation.NewMemoryLocker()
		}
	}

	app.Storage = buildStorage(app, outputRepo)

	tool := gs.New(gs.Locate(app.Config.GhostscriptBin))
	if tool == nil {
		log.Printf("bootstrap: ghostscript not found; merge and page count use pdfcpu only")
	}
	app.Renderer = render.NewRodRenderer(app.Config.ChromeBin, app.Config.RenderTimeout)
	app.closers = append(app.closers, app.Renderer)

	app.Generation = &generation.Service{
		Apps:     appRepo,
		Tasks:    taskRepo,
		Sources:  sourceRepo,
		Outputs:  outputRepo,
		Ledger:   ledgerRepo,
		Storage:  app.Storage,
		Renderer: app.Renderer,
		Merger:   merge.Default(tool),
		Pages:    pagecount.Default(tool),
		Registry: registry.NewClient(ctx, registry.Config{
			BaseURL: app.Config.RegistryURL,
			APIKey:  app.Config.RegistryAPIKey,
			AppURL:  app.Config.AppURL,
		}, nil),
		Notifier:     app.Notifier,
		Queue:        app.Queue,
		Locker:       locker,
		Clock:        app.Clock,
		TempDir:      app.Config.TempDir,
		RegistryWait: app.Config.RegistryWait,
	}
	if app.Inline != nil {
		app.Inline.SetHandler(app.Generation.Dispatch)
	}
	app.Handler = generation.NewHandler(app.Generation)
}

// buildStorage registers a builder per storage type. Builders fail with
// *object.UnconfiguredError when credentials are missing so the reason
// lands on the affected item instead of failing startup.
func buildStorage(app *App, outputs applications.OutputRepo) *object.Registry {
	cfg := app.Config
	reg := object.NewRegistry()

	reg.Register(object.TypeYandexDisk, func(ctx context.Context, account object.Account) (object.Provider, error) {
		return yandexdisk.New(ctx, cfg.YandexAPIURL, account.Token, cfg.YandexRoot, nil)
	})

	var (
		s3Once   sync.Once
		s3Client *s3store.Client
		s3Err    error
	)
	meter := &usage.Meter{Cache: app.UsageCache, Source: outputs, Provider: int(object.TypeObjectStorage)}
	reg.Register(object.TypeObjectStorage, func(ctx context.Context, account object.Account) (object.Provider, error) {
		s3Once.Do(func() {
			s3Client, s3Err = s3store.NewClient(ctx, s3store.Config{
				Endpoint:  cfg.ObjectEndpoint,
				Region:    cfg.ObjectRegion,
				Bucket:    cfg.ObjectBucket,
				AccessKey: cfg.ObjectAccessKey,
				SecretKey: cfg.ObjectSecretKey,
				Root:      cfg.ObjectRoot,
			})
		})
		if s3Err != nil {
			return nil, s3Err
		}
		return s3Client.For(account, meter, app.Clock), nil
	})

	if cfg.IsDevLike() {
		reg.Register(object.TypeLocal, func(context.Context, object.Account) (object.Provider, error) {
			return localstore.New(cfg.LocalStoreDir, cfg.YandexRoot), nil
		})
	}

	return reg
}
