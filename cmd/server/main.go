package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/logging"
	"github.com/iliyamo/auth-service/internal/mail"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/notify"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/router"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

func main() {
	cfg := config.Load()
	log := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	users, tokens, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Email delivery: through RabbitMQ when a broker is configured, otherwise
	// rendered and sent in-process.
	mailCfg := config.LoadMailConfig()
	if err := mailCfg.Validate(cfg.IsProduction()); err != nil {
		return err
	}
	renderer, err := mail.NewRenderer(mailCfg.FromName)
	if err != nil {
		return err
	}
	sender, err := mail.NewSender(mailCfg, log)
	if err != nil {
		return err
	}
	direct := &notify.Direct{Renderer: renderer, Sender: sender}

	var deliverer notify.Deliverer = direct
	var consumers sync.WaitGroup
	if mailCfg.AMQPURL != "" {
		pub := queue.NewPublisher(mailCfg.AMQPURL, mailCfg.Queue, log)
		defer func() { _ = pub.Close() }()
		deliverer = &notify.Publish{Publisher: pub}
		if mailCfg.RunConsumer {
			consumers.Add(1)
			go func() {
				defer consumers.Done()
				if err := queue.StartEmailConsumer(ctx, mailCfg.AMQPURL, mailCfg.Queue, direct.Deliver, log); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("email consumer stopped", "err", err)
				}
			}()
		}
	}
	dispatcher := notify.NewDispatcher(deliverer, log, m, 15*time.Second)

	issuer := service.NewTokenIssuer(utils.NewSigner(cfg.JWTSecret, cfg.JWTIssuer), tokens, service.TokenTTLs{
		Access:  cfg.AccessTTL,
		Refresh: cfg.RefreshTTL,
		Reset:   cfg.ResetTTL,
		Verify:  cfg.VerifyTTL,
	})
	svc := service.NewAuthService(service.Options{
		Users:       users,
		Tokens:      issuer,
		Hasher:      utils.NewPasswordHasher(cfg.BcryptCost),
		Notifier:    dispatcher,
		Log:         log,
		Metrics:     m,
		FrontendURL: cfg.FrontendURL,
		ResetTTL:    cfg.ResetTTL,
		VerifyTTL:   cfg.VerifyTTL,
	})

	// A nil client turns the limiter into a pass-through.
	rlCfg := config.LoadRateLimitConfig()
	var rdb *redis.Client
	if rlCfg.Enabled {
		if rdb = config.NewRedisClient(); rdb != nil {
			defer func() { _ = rdb.Close() }()
		} else {
			log.Warn("redis unavailable, rate limiting disabled")
		}
	}
	limiter := middleware.NewTokenBucket(rlCfg, rdb, log)

	e := router.New(router.Deps{
		Auth:        handler.NewAuthHandler(svc, handler.Binder{KeepBody: !cfg.IsProduction()}, cfg.RequestTimeout),
		Tokens:      issuer,
		Users:       users,
		Limiter:     limiter,
		Log:         log,
		Metrics:     m,
		ServiceName: cfg.ServiceName,
		Production:  cfg.IsProduction(),
		Timeout:     cfg.RequestTimeout,
	})

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "store", cfg.Store)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("pending notifications dropped", "err", err)
	}
	if !waitGroup(shutdownCtx, &consumers) {
		log.Warn("email consumer still busy at shutdown")
	}
	return nil
}

// openStore returns the user and token stores selected by APP_STORE.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (service.UserStore, service.TokenStore, func(), error) {
	if cfg.Store == "memory" {
		log.Warn("using in-memory store, data is lost on restart")
		mem := repository.NewMemory()
		return mem, mem, func() {}, nil
	}

	sqlDB, err := database.Open(cfg.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, nil, err
		}
		log.Info("migrations applied")
	}
	db := database.NewBun(sqlDB)
	return repository.NewUserRepo(db), repository.NewTokenRepo(db), func() { _ = db.Close() }, nil
}

// waitGroup waits for wg or ctx, reporting whether wg finished.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
