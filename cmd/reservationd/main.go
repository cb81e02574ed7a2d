package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"locker-reservation-backend/config"
	"locker-reservation-backend/internal/api"
	"locker-reservation-backend/internal/db"
	"locker-reservation-backend/internal/hardware"
	"locker-reservation-backend/internal/lifecycle"
	"locker-reservation-backend/internal/lockstatus"
	"locker-reservation-backend/internal/logger"
	"locker-reservation-backend/internal/metrics"
	"locker-reservation-backend/internal/model"
	"locker-reservation-backend/internal/mw"
	"locker-reservation-backend/internal/notification"
	"locker-reservation-backend/internal/payment"
	"locker-reservation-backend/internal/scheduler"
	"locker-reservation-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl.Info("configuration loaded", zap.String("path", configPath), zap.String("env", cfg.Env))

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		zl.Warn("VAPID keys are not configured; user messages will not be delivered")
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, zl)
	if err != nil {
		zl.Fatal("failed to initialize database", zap.Error(err))
	}
	zl.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	m := metrics.New()

	dispatcher, closeHardware := newDispatcher(ctx, cfg, appStore, m, zl)
	defer closeHardware()

	var publisher notification.Publisher = notification.LogPublisher{Log: zl}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notification.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		zl.Info("publishing change notifications to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	pool := notification.NewWorkerPool(notification.Options{
		Size:      cfg.WorkerPool.Size,
		QueueSize: cfg.WorkerPool.QueueSize,
		WebPush:   webpushOptions,
		Publisher: publisher,
		Metrics:   m,
	}, appStore, zl.Named("notification"))
	pool.Start(ctx)

	sched := scheduler.NewService(scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Lease:       cfg.Scheduler.Lease,
		BatchSize:   cfg.Scheduler.BatchSize,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
	}, appStore, zl.Named("scheduler"), m)

	engine := lifecycle.NewService(lifecycle.Config{
		CodeDigits:      cfg.Lifecycle.CodeDigits,
		CodeMaxAttempts: cfg.Lifecycle.CodeMaxAttempts,
		MinimumCharge:   cfg.Lifecycle.MinimumCharge,
	}, lifecycle.Deps{
		Store: appStore,
		Catalog: store.NewCatalog(gormDB, time.Duration(cfg.Lifecycle.CatalogCacheTTLSeconds)*time.Second, model.Organization{
			ParcelExpiration:  cfg.Lifecycle.ParcelExpirationHours,
			AutoCancelMinutes: cfg.Lifecycle.AutoCancelMinutes,
			Currency:          cfg.Lifecycle.Currency,
		}),
		Scheduler: sched,
		Payments:  payment.NewSandbox(zl.Named("payment")),
		Unlocker:  dispatcher,
		Notifier:  pool,
		Metrics:   m,
		Log:       zl.Named("lifecycle"),
	})
	engine.RegisterTransitions(sched)

	if cfg.Scheduler.Enabled {
		go sched.Run(ctx)
		zl.Info("scheduler started", zap.Duration("interval", cfg.Scheduler.Interval))
	}
	go lockstatus.NewPoller(cfg.Vendor, appStore, nil, zl).Run(ctx)

	router := api.NewRouter(engine, appStore, webpushOptions, m, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		zl.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	zl.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server Shutdown", zap.Error(err))
	}

	zl.Info("server gracefully stopped")
}

// newDispatcher registers an unlocker for every hardware kind that is
// configured. Virtual devices are always supported.
func newDispatcher(ctx context.Context, cfg *config.Config, s store.Store, m *metrics.Metrics, zl *zap.Logger) (*hardware.Dispatcher, func()) {
	limiter := mw.NewKeyedRateLimiter(rate.Limit(cfg.Lifecycle.UnlockPerSec), cfg.Lifecycle.UnlockBurst, 10*time.Minute)
	dispatcher := hardware.NewDispatcher(zl.Named("hardware"), limiter, m, 15*time.Second)
	dispatcher.Register(model.HardwareVirtual, hardware.NewVirtualUnlocker(s))

	closers := []func(){}

	if cfg.MQTT.Broker != "" {
		client := hardware.NewMQTTClient(hardware.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Timeout:  time.Duration(cfg.MQTT.TimeoutSeconds) * time.Second,
		}, zl.Named("mqtt"))
		// Auto-reconnect keeps retrying; until then unlocks report offline.
		if err := client.Connect(); err != nil {
			zl.Error("mqtt broker unreachable", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		dispatcher.Register(model.HardwareMQTT, hardware.NewMQTTUnlocker(client, cfg.MQTT.QoS))
		closers = append(closers, client.Disconnect)
	}

	if cfg.AWS.IoTEndpoint != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			zl.Error("failed to load AWS configuration; aws_iot devices are unsupported", zap.Error(err))
		} else {
			endpoint := cfg.AWS.IoTEndpoint
			if !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			client := iotdataplane.NewFromConfig(awsCfg, func(o *iotdataplane.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
			dispatcher.Register(model.HardwareAWSIoT, hardware.NewAWSIoTUnlocker(client, cfg.AWS.TopicTemplate))
		}
	}

	if cfg.Vendor.BaseURL != "" {
		httpClient := &http.Client{Timeout: time.Duration(cfg.Vendor.TimeoutSeconds) * time.Second}
		dispatcher.Register(model.HardwareVendor, hardware.NewVendorUnlocker(cfg.Vendor.BaseURL, cfg.Vendor.APIKey, httpClient))
	}

	return dispatcher, func() {
		for _, c := range closers {
			c()
		}
	}
}
