package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/mizutama/loreforge/server/api/rest"
	"github.com/mizutama/loreforge/server/api/sse"
	"github.com/mizutama/loreforge/server/audit"
	"github.com/mizutama/loreforge/server/cache"
	"github.com/mizutama/loreforge/server/config"
	"github.com/mizutama/loreforge/server/importer"
	mw "github.com/mizutama/loreforge/server/middleware"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/query"
	"github.com/mizutama/loreforge/server/replication"
	"github.com/mizutama/loreforge/server/scheduler"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Sync.ServerEnabled && cfg.Security.JWTSecret == "" {
		log.Fatalf("security.jwt_secret is required when sync.server_enabled is set")
	}

	// ---- Cache / PubSub ----
	cacheConfig := cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Store ----
	st := store.Open(cfg.Database, pubsub, logger)
	if err := st.Initialize(); err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Shutdown()

	// ---- Audit ----
	auditSvc := audit.New(st, logger)
	defer auditSvc.Stop()

	// ---- Importer ----
	imp := importer.New(st, cfg.Packs.Dir, cfg.Packs.ManifestFile, pubsub, logger)

	// First launch: load the core content packs before serving. Subsequent
	// launches skip straight to serving because the flag persists.
	loaded, loadedAt, err := st.DataLoaded()
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	if loaded {
		logger.Info("rules data already loaded", zap.Time("at", loadedAt))
	} else {
		logger.Info("first launch, importing core content packs")
		n, err := imp.ImportAllCore(context.Background())
		if err != nil {
			logger.Error("core import incomplete", zap.Int("records", n), zap.Error(err))
		} else {
			logger.Info("core import done", zap.Int("records", n))
		}
	}

	// ---- Query Services ----
	rulesQ := query.NewRules(st, c, logger)
	charsQ := query.NewCharacters(st, logger)
	prefsQ := query.NewPreferences(st, logger)

	// ---- Replication ----
	replMgr := replication.New(st, pubsub, cfg.Sync, logger)
	defer replMgr.Stop()

	// Resume sync automatically if it was enabled last session.
	if prefs, err := prefsQ.Get(); err != nil {
		logger.Warn("preferences load failed", zap.Error(err))
	} else if prefs.SyncEnabled && prefs.SyncEndpoint != "" {
		err := replMgr.Start(prefs.SyncEndpoint, replication.Credentials{
			Username: prefs.SyncUsername,
			Password: prefs.SyncPassword,
		})
		if err != nil {
			logger.Warn("sync auto-start failed", zap.Error(err))
		} else {
			logger.Info("sync resumed", zap.String("endpoint", prefs.SyncEndpoint))
		}
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// Expired tombstones are noise once every replica has seen them.
	sched.Every("tombstone_prune", 6*time.Hour, func(ctx context.Context) {
		db, err := st.DB()
		if err != nil {
			return
		}
		cutoff := time.Now().Add(-cfg.Sync.TombstoneTTL)
		result := db.Delete(&model.Tombstone{}, "deleted_at < ?", cutoff)
		if result.Error != nil {
			logger.Warn("tombstone prune failed", zap.Error(result.Error))
			return
		}
		if result.RowsAffected > 0 {
			logger.Info("tombstones pruned", zap.Int64("count", result.RowsAffected))
		}
	})
	sched.Every("sync_status", 10*time.Minute, func(ctx context.Context) {
		logger.Debug("sync status", zap.Bool("active", replMgr.IsActive()))
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	charH := apirest.NewCharacterHandler(charsQ, auditSvc)
	rulesH := apirest.NewRulesHandler(rulesQ)
	prefsH := apirest.NewPreferencesHandler(prefsQ)
	importH := apirest.NewImportHandler(st, imp, auditSvc, logger)
	replH := apirest.NewReplicationHandler(replMgr, prefsQ)

	api := r.Group("/api")
	{
		charsG := api.Group("/characters")
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.GET("/:id", charH.Get)
		charsG.PUT("/:id", charH.Update)
		charsG.DELETE("/:id", charH.Delete)

		rulesG := api.Group("/rules")
		rulesG.POST("/search", rulesH.Search)
		rulesG.GET("/:category", rulesH.List)
		rulesG.GET("/:category/count", rulesH.Count)
		rulesG.GET("/:category/:id", rulesH.Get)

		api.GET("/preferences", prefsH.Get)
		api.PATCH("/preferences", prefsH.Update)

		importG := api.Group("/import")
		importG.GET("/status", importH.Status)
		importG.POST("", importH.Trigger)
		importG.POST("/reimport", importH.Reimport)
		importG.POST("/optional", importH.Optional)

		syncG := api.Group("/sync")
		syncG.GET("/status", replH.Status)
		syncG.POST("/start", replH.Start)
		syncG.POST("/stop", replH.Stop)

		// Sync server surface: only mounted when this instance also acts as
		// the remote endpoint for other replicas.
		if cfg.Sync.ServerEnabled {
			authH := apirest.NewAuthHandler(st, c, cfg.Security)
			syncSrvH := apirest.NewSyncHandler(st, auditSvc, logger)

			authG := api.Group("/auth")
			authG.POST("/register", authH.Register)
			authG.POST("/login", authH.Login)
			authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)

			syncG.POST("/pull", mw.Auth(cfg.Security, c), syncSrvH.Pull)
			syncG.POST("/push", mw.Auth(cfg.Security, c), syncSrvH.Push)
			logger.Info("sync server API enabled")
		}
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, logger)
	r.GET("/events", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
