package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jhoicas/zatca-einvoicing/internal/application/compliance"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/jobs"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/lock"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/metrics"
	infrapdf "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/pdf"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/postgres"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/storage"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
	httpRouter "github.com/jhoicas/zatca-einvoicing/internal/interfaces/http"
	"github.com/jhoicas/zatca-einvoicing/pkg/config"
	"github.com/jhoicas/zatca-einvoicing/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("zatca_env", cfg.ZATCA.Environment).
		Msg("iniciando aplicación")

	ctx := context.Background()

	migrator, err := postgres.NewMigrator(cfg.DB.ConnectionString(), log.Component("migrate"))
	if err != nil {
		log.Fatal().Err(err).Msg("migraciones")
	}
	if err := migrator.Up(); err != nil {
		log.Fatal().Err(err).Msg("migraciones")
	}
	_ = migrator.Close()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	configRepo := postgres.NewZatcaConfigurationRepository(pool)
	invoiceRepo := postgres.NewZatcaInvoiceRepository(pool)
	chainRepo := postgres.NewChainRepository(pool)
	sourceRepo := postgres.NewSourceInvoiceRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Bloqueo por tenant: Redis si hay varias réplicas, en memoria si no.
	var locker compliance.TenantLocker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled() {
		rdb, err := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log.Component("lock"))
	}

	// Archivo de XML firmados (opcional).
	var archive compliance.Archive
	if cfg.Storage.Enabled() {
		minioArchive, err := storage.NewMinioArchive(cfg.Storage)
		if err != nil {
			log.Fatal().Err(err).Msg("almacenamiento de XML")
		}
		if err := minioArchive.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Msg("bucket de XML")
		}
		archive = minioArchive
	}

	apiClient := infrazatca.NewAPIClient(cfg.ZATCA, m, log.Component("zatca-api"))
	settings := compliance.Settings{
		Environment:    cfg.ZATCA.Environment,
		BaseURL:        cfg.ZATCA.BaseURL,
		ProcessTimeout: cfg.ZATCA.ProcessTimeout,
	}

	builder := infrazatca.NewUBLBuilder()
	hasher := infrazatca.NewHashChainer()
	dss := signer.NewDigitalSignatureService()

	orchestrator := compliance.NewOrchestrator(compliance.OrchestratorDeps{
		Configs:  configRepo,
		Invoices: invoiceRepo,
		Chain:    chainRepo,
		Sources:  sourceRepo,
		Tx:       txRunner,
		Locker:   locker,
		Builder:  builder,
		Hasher:   hasher,
		Signer:   dss,
		LoadKey:  signer.Load,
		Client:   apiClient,
		Archive:  archive,
		Metrics:  m,
		Log:      log.Component("orchestrator"),
		Settings: settings,
	})
	configurationUC := compliance.NewConfigurationUseCase(configRepo, apiClient, settings)
	csidUC := compliance.NewCSIDUseCase(configRepo, apiClient, locker, signer.Load, settings, log.Component("csid"))
	reportUC := compliance.NewReportUseCase(invoiceRepo, configRepo, infrapdf.NewMarotoPDFGenerator())
	selfTestUC := compliance.NewSelfTestUseCase(compliance.SelfTestDeps{
		Configs:  configRepo,
		Client:   apiClient,
		Builder:  builder,
		Hasher:   hasher,
		Signer:   dss,
		LoadKey:  signer.Load,
		Archive:  archive,
		Settings: settings,
		Log:      log.Component("selftest"),
	})

	// Reporte automático de simplificadas pendientes (plazo de 24 h).
	scheduler, err := jobs.NewScheduler(log.Component("jobs"))
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	if cfg.ZATCA.AutoSubmit {
		every, err := time.ParseDuration(cfg.ZATCA.ReportSchedule)
		if err != nil || every <= 0 {
			log.Fatal().Err(err).Str("schedule", cfg.ZATCA.ReportSchedule).Msg("intervalo de reporte automático inválido")
		}
		reporter := compliance.NewAutoReporter(invoiceRepo, orchestrator, m, log.Component("auto-report"), 0)
		err = scheduler.Every("zatca-auto-report", every, true, func(ctx context.Context) error {
			_, err := reporter.ReportDue(ctx)
			return err
		})
		if err != nil {
			log.Fatal().Err(err).Msg("registrar reporte automático")
		}
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.ZATCA.ProcessTimeout,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "ZATCA e-invoicing API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		Configuration: configurationUC,
		CSID:          csidUC,
		Pipeline:      orchestrator,
		Reports:       reportUC,
		Compliance:    selfTestUC,
		Gatherer:      registry,
		ServiceName:   cfg.App.Name,
		JWTSecret:     cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Error().Err(err).Msg("apagado del scheduler")
	}
	// Los ProcessAsync en curso terminan con su propio timeout.
	orchestrator.Wait()

	log.Info().Msg("aplicación detenida")
}
