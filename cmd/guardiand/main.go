package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"Guardian/internal/alert"
	"Guardian/internal/device"
	"Guardian/internal/geo"
	handlers "Guardian/internal/handler"
	"Guardian/internal/listeners"
	"Guardian/internal/models"
	"Guardian/internal/trigger"
	"Guardian/pkg/backup"
	"Guardian/pkg/config"
	"Guardian/pkg/i18n"
	"Guardian/pkg/logger"
	"Guardian/pkg/metrics"
	"Guardian/pkg/middleware"
	"Guardian/pkg/notification"
	"Guardian/pkg/scheduler"
	"Guardian/pkg/sse"
	"Guardian/pkg/storage"
	"Guardian/pkg/util"
	"Guardian/pkg/websocket"
)

func main() {
	cfg, envErr := config.Load()
	if err := logger.Init(cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Warn("load .env failed", zap.Error(envErr))
	}
	if err := run(cfg); err != nil {
		logger.Fatal("guardiand stopped", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	log := logger.Named("guardiand")
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := util.OpenDatabase(cfg.DBDriver, cfg.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	transport, err := openTransport(cfg, db)
	if err != nil {
		return err
	}
	defer transport.Close()

	sched := scheduler.New()
	defer sched.Stop()
	updates, err := newUpdateLog(cfg, transport, sched, log.Named("updatelog"), m)
	if err != nil {
		return err
	}

	settings, err := models.NewSettingsStore(db)
	if err != nil {
		return err
	}
	if err := settings.SeedProfile(ctx, models.Profile{
		SenderAddress: cfg.SenderAddress,
		SenderName:    cfg.SenderName,
		TriggerPhrase: cfg.TriggerPhrase,
	}); err != nil {
		return err
	}
	actions, err := models.NewActionLog(db)
	if err != nil {
		return err
	}

	// 设备桥：定位与语音由客户端推送
	location := device.NewLocationFeed()
	speech := device.NewTranscriptFeed()
	resolver := geo.NewResolver(location, geo.Config{
		Deadline:          cfg.ResolveDeadline,
		WatchFreshness:    cfg.WatchFreshness,
		CheapTimeout:      cfg.CheapTimeout,
		CheapMaxStaleness: cfg.CheapMaxStaleness,
		PreciseTimeout:    cfg.PreciseTimeout,
	}, geo.WithLogger(log.Named("geo")), geo.WithMetrics(m))
	guard := &trigger.Guard{}
	detector := trigger.NewDetector(speech, guard, trigger.Config{
		Lang:     cfg.TriggerLang,
		Keywords: cfg.DistressKeywords,
	}, log.Named("trigger"))

	signals := util.NewSignals()
	mgr := alert.NewManager(alert.Config{
		ResolveDeadline: cfg.ResolveDeadline,
		Expiry:          cfg.AlertExpiry,
	}, alert.Deps{
		Resolver:  resolver,
		Updates:   updates,
		Store:     transport,
		Settings:  settings,
		Guard:     guard,
		Detector:  detector,
		Scheduler: sched,
		Signals:   signals,
		Metrics:   m,
		Logger:    log.Named("alert"),
	})
	defer mgr.Close()

	// 推送与短信客户端未注入时只记录动作
	guardians := notification.NewGuardians(nil, nil, log.Named("notify"))
	al := listeners.InitAlertListeners(signals, guardians, actions, log.Named("listener"))
	defer al.Wait()

	cr := scheduler.NewCron(time.Local)
	if cfg.AlertExpiry > 0 {
		if _, err := cr.Add(cfg.ExpirySchedule, scheduler.FuncJob(func(ctx context.Context) {
			if expired, err := mgr.Expire(ctx); err != nil {
				log.Warn("alert expiry failed", zap.Error(err))
			} else if expired {
				log.Info("live alert expired", zap.Duration("after", cfg.AlertExpiry))
			}
		})); err != nil {
			return err
		}
	}
	if cfg.BackupEnabled {
		b := backup.New(backup.Config{Driver: cfg.DBDriver, Path: cfg.BackupPath, Schedule: cfg.BackupSchedule}, db, log.Named("backup"))
		if mc, ok := storage.MinioConfigFromEnv(); ok {
			store, err := storage.NewMinioStore(mc)
			if err != nil {
				return err
			}
			b.WithStore(store)
		}
		if err := b.Schedule(cr); err != nil {
			return err
		}
	}
	cr.Start()
	defer cr.Stop()

	idem, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer idem.Close()
	tr, err := i18n.NewI18nSupport(cfg.DefaultLanguage, log.Named("i18n"))
	if err != nil {
		return err
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.MessageRate,
		Identifier: "ip+route",
		AddHeaders: true,
	}, nil).WithObserver(m)

	events := sse.NewHub(15 * time.Second)
	wsHub := websocket.NewHub(websocket.LoadConfigFromEnv(), channelFeed(updates))
	defer wsHub.Close()

	h := handlers.NewHandlers(handlers.Options{
		DB:          db,
		Manager:     mgr,
		Settings:    settings,
		Actions:     actions,
		Location:    location,
		Speech:      speech,
		Events:      events,
		WS:          websocket.NewHandler(wsHub),
		I18n:        tr,
		Limiter:     limiter,
		Idempotency: idem,
		Metrics:     m,
		Logger:      log,
	})
	defer h.Close()

	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.MonitorMiddleware(m))
	if cfg.Mode != "release" {
		engine.Use(gin.Logger())
	}
	h.Register(engine)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("transport", cfg.Transport), zap.String("delivery", cfg.Delivery))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 关闭前停止语音监听
	mgr.DisarmDetection()
	return srv.Shutdown(shutdownCtx)
}
