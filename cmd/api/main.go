package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/noah-isme/calibration-cert-api/api/swagger"
	"github.com/noah-isme/calibration-cert-api/internal/handler"
	"github.com/noah-isme/calibration-cert-api/internal/middleware"
	"github.com/noah-isme/calibration-cert-api/internal/models"
	"github.com/noah-isme/calibration-cert-api/internal/repository"
	"github.com/noah-isme/calibration-cert-api/internal/service"
	"github.com/noah-isme/calibration-cert-api/pkg/bsre"
	"github.com/noah-isme/calibration-cert-api/pkg/cache"
	"github.com/noah-isme/calibration-cert-api/pkg/config"
	"github.com/noah-isme/calibration-cert-api/pkg/database"
	"github.com/noah-isme/calibration-cert-api/pkg/export"
	"github.com/noah-isme/calibration-cert-api/pkg/jobs"
	"github.com/noah-isme/calibration-cert-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/calibration-cert-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/calibration-cert-api/pkg/middleware/requestid"
	"github.com/noah-isme/calibration-cert-api/pkg/storage"
)

// @title Calibration Certificate API
// @version 1.0.0
// @description Multi-level verification and BSrE e-signature workflow for calibration certificates
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) (err error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("public cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
	}

	artifacts, err := storage.NewLocalStorage(cfg.PDF.StorageDir)
	if err != nil {
		return err
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	certRepo := repository.NewCertificateRepository(db)
	ledgerRepo := repository.NewVerificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Public.CacheTTL, logr, cfg.Public.CacheEnabled)

	authSvc := service.NewAuthService(logr, service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	pdfSvc := service.NewPDFService(certRepo, ledgerRepo, artifacts,
		export.NewCertificatePDF("Sertifikat Kalibrasi"),
		storage.NewSignedURLSigner(cfg.PDF.SignedURLSecret, cfg.PDF.SignedURLTTL),
		cacheSvc, auditRepo, metrics,
		service.PDFServiceConfig{
			RenderTimeout: cfg.PDF.RenderTimeout,
			PublicBaseURL: cfg.Public.BaseURL,
			DownloadPath:  cfg.APIPrefix + "/certificates/pdf/download",
		}, logr.Named("pdf"))
	queue := jobs.NewQueue("certificate-pdf", pdfSvc.HandleJob, jobs.QueueConfig{
		Workers:     cfg.PDF.WorkerConcurrency,
		MaxRetries:  cfg.PDF.WorkerRetries,
		RetryDelay:  cfg.PDF.RetryDelay,
		Logger:      logr,
		OnExhausted: pdfSvc.OnExhausted,
	})
	pdfSvc.UseQueue(queue)
	queue.Start(context.WithoutCancel(ctx))
	defer queue.Stop()

	signatureSvc := service.NewSignatureService(certRepo, ledgerRepo, bsre.New(cfg.BSrE), auditRepo, cfg.BSrE.Timeout, logr.Named("signature"),
		service.WithPDFScheduler(pdfSvc),
		service.WithCacheInvalidator(cacheSvc),
		service.WithSignatureMetrics(metrics),
	)
	workflowSvc := service.NewWorkflowService(certRepo, ledgerRepo, signatureSvc, auditRepo, metrics, validate, logr.Named("workflow"))
	querySvc := service.NewVerificationQueryService(certRepo, ledgerRepo, cacheSvc, pdfSvc, logr)
	certificateSvc := service.NewCertificateService(certRepo, ledgerRepo, auditRepo, validate, logr,
		service.WithCertificateCache(cacheSvc))

	backfill := service.NewPDFBackfill(certRepo, pdfSvc, logr.Named("pdf-backfill"),
		service.WithBackfillSchedule(cfg.PDF.BackfillSchedule))
	if err := backfill.Start(); err != nil {
		return fmt.Errorf("start pdf backfill: %w", err)
	}
	defer func() { <-backfill.Stop().Done() }()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	routes := routeDeps{
		auth:         authSvc,
		audit:        auditRepo,
		logger:       logr,
		metrics:      handler.NewMetricsHandler(metrics, db),
		certificates: handler.NewCertificateHandler(certificateSvc, workflowSvc, pdfSvc),
		verification: handler.NewVerificationHandler(workflowSvc, querySvc, signatureSvc),
		public:       handler.NewPublicHandler(querySvc, pdfSvc),
	}
	registerRoutes(r, cfg, routes)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routeDeps struct {
	auth         *service.AuthService
	audit        *repository.AuditRepository
	logger       *zap.Logger
	metrics      *handler.MetricsHandler
	certificates *handler.CertificateHandler
	verification *handler.VerificationHandler
	public       *handler.PublicHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/verify-certificate", deps.public.Verify)
	api.GET("/verify-certificate/qr", deps.public.QRCode)
	api.GET("/certificates/pdf/download", deps.public.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))

	certs := secured.Group("/certificates")
	certs.POST("", middleware.Audit(deps.audit, deps.logger, models.AuditActionCreate, "certificate"), deps.certificates.Create)
	certs.GET("", deps.certificates.List)
	certs.GET("/:id", deps.certificates.Get)
	certs.PATCH("/:id", middleware.Audit(deps.audit, deps.logger, models.AuditActionUpdate, "certificate"), deps.certificates.Update)
	certs.POST("/:id/send-to-verifiers", deps.certificates.SendToVerifiers)
	certs.POST("/:id/reject", deps.certificates.Reject)
	certs.POST("/:id/generate-pdf", deps.certificates.GeneratePDF)
	certs.GET("/:id/pdf", deps.certificates.PDFLink)
	certs.GET("/:id/history", deps.certificates.History)
	certs.GET("/:id/audit", middleware.RequireRoles(models.RoleAdmin), deps.certificates.Audit)

	verification := secured.Group("/certificate-verification")
	verification.POST("", deps.verification.Decide)
	verification.GET("/pending", deps.verification.Pending)
	verification.POST("/sign-level-3", deps.verification.SignLevel3)
	verification.POST("/verify-signature", deps.verification.VerifySignature)
}
