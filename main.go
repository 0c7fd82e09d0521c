package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-scout/config"
	"paper-scout/providers"
	"paper-scout/providers/arxiv"
	"paper-scout/services"
	"paper-scout/storage"
)

var (
	newPapersCounter   prometheus.Counter
	newMatchesCounter  prometheus.Counter
	digestsSentCounter prometheus.Counter
)

func init() {
	newPapersCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "new_papers_added_total",
		Help: "Total number of new papers added to the catalog.",
	})
	newMatchesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "new_matches_total",
		Help: "Total number of match records written by the match engine.",
	})
	digestsSentCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digests_sent_total",
		Help: "Total number of digest emails sent.",
	})
	prometheus.MustRegister(newPapersCounter, newMatchesCounter, digestsSentCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to catalog database", zap.Error(err))
	}
	logging.Info("Connected to catalog database.")

	catalog := storage.NewCatalogStore(db)
	logging.Info("Running database auto-migration...")
	if err := catalog.Migrate(); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	index, err := storage.OpenIndex(cfg.IndexPath)
	if err != nil {
		logging.Fatal("Failed to open paper index", zap.Error(err))
	}
	defer index.Close()

	filters := storage.NewFilterStore(cfg.DataDir)

	enabledProviders := []providers.Provider{
		arxiv.NewFetcher(cfg, logging.With(zap.String("provider", "arxiv"))),
	}

	ingest := services.NewIngestService(cfg, catalog, index, enabledProviders, logging.With(zap.String("service", "ingest")))
	summarizer := services.NewSummaryService(cfg, catalog, logging.With(zap.String("service", "summary")))
	matcher := services.NewMatchService(catalog, index, filters, logging.With(zap.String("service", "match")))
	notifier := services.NewNotifierService(cfg, catalog, filters, logging.With(zap.String("service", "notify")))

	sweep := func(ctx context.Context) error {
		ingested, err := ingest.Run(ctx)
		if err != nil {
			return err
		}
		newPapersCounter.Add(float64(ingested))

		if _, err := summarizer.Run(ctx); err != nil {
			// Summaries are best-effort enrichment; matching must go on.
			logging.Error("Summary enrichment failed", zap.Error(err))
		}

		matched, err := matcher.RunSweep(ctx)
		newMatchesCounter.Add(float64(matched))
		if err != nil {
			return err
		}

		sent, err := notifier.RunAll(ctx)
		digestsSentCounter.Add(float64(sent))
		if err != nil {
			return err
		}

		_, err = ingest.Prune(ctx)
		return err
	}

	if cfg.RunOnce {
		logging.Info("RUN_ONCE set, performing a single sweep")
		if err := sweep(context.Background()); err != nil {
			logging.Fatal("Sweep failed", zap.Error(err))
		}
		return
	}

	codes, err := storage.OpenVerificationCodeStore(filepath.Join(cfg.DataDir, "codes.db"), cfg.VerificationCodeTTL())
	if err != nil {
		logging.Fatal("Failed to open verification code store", zap.Error(err))
	}
	defer codes.Close()

	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled sweep...")
		if err := sweep(context.Background()); err != nil {
			logging.Error("Scheduled sweep failed", zap.Error(err))
		} else {
			logging.Info("Scheduled sweep completed")
		}
	})
	cronScheduler.Start()

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/sweep", func(c *gin.Context) {
		if err := sweep(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sweep completed"})
	})
	router.POST("/ingest", func(c *gin.Context) {
		count, err := ingest.Run(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		newPapersCounter.Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"ingested": count})
	})
	router.POST("/auth/request-code", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := catalog.EnsureUser(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		code, err := storage.GenerateCode()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := codes.Put(req.Email, code); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := notifier.SendVerificationCode(req.Email, user.Lang, code); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "code sent"})
	})
	router.POST("/auth/verify", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required,email"`
			Code  string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ok, err := codes.Verify(req.Email, req.Code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired code"})
			return
		}
		if err := catalog.SetVerified(c.Request.Context(), req.Email); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "verified"})
	})

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}
