package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/bountyboard/api/rest"
	"github.com/kasuganosora/bountyboard/api/sse"
	apows "github.com/kasuganosora/bountyboard/api/ws"
	"github.com/kasuganosora/bountyboard/audit"
	"github.com/kasuganosora/bountyboard/cache"
	"github.com/kasuganosora/bountyboard/config"
	dbadapter "github.com/kasuganosora/bountyboard/db"
	"github.com/kasuganosora/bountyboard/game/board"
	"github.com/kasuganosora/bountyboard/game/bounty"
	"github.com/kasuganosora/bountyboard/game/item"
	"github.com/kasuganosora/bountyboard/game/player"
	"github.com/kasuganosora/bountyboard/game/quest"
	"github.com/kasuganosora/bountyboard/game/ticket"
	mw "github.com/kasuganosora/bountyboard/middleware"
	"github.com/kasuganosora/bountyboard/model"
	"github.com/kasuganosora/bountyboard/plugin/hook"
	"github.com/kasuganosora/bountyboard/resource"
	"github.com/kasuganosora/bountyboard/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
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

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
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
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Quest data ----
	items, err := resource.LoadItems(cfg.Quests.ItemsPath)
	if err != nil {
		log.Fatalf("items: %v", err)
	}
	catalog := quest.NewCatalog(nil)
	questLoader, err := resource.NewQuestLoader(catalog, items, logger)
	if err != nil {
		log.Fatalf("quests: %v", err)
	}
	if _, err := questLoader.Reload(cfg.Quests.DefinitionsPath); err != nil {
		logger.Warn("starting with an empty quest catalog", zap.Error(err))
	}

	policy, err := ticket.ParseBeginPolicy(cfg.Board.BeginPolicy)
	if err != nil {
		log.Fatalf("board.begin_policy: %v", err)
	}

	// ---- Game Systems ----
	hooks := hook.NewHookCenter()
	sm := player.NewSessionManager(logger)
	profiles := player.NewGormProfiles(db)
	inventory := item.NewInventoryService(db, items)
	tickets := ticket.NewGormStore(db, logger)

	variants := board.DefaultRegistry()
	if err := variants.PromoteToClass(cfg.Board.ClassVariants...); err != nil {
		log.Fatalf("board.class_variants: %v", err)
	}
	boardOpts := board.Options{
		QuestSlots:  cfg.Board.QuestSlots,
		DecreeSlots: cfg.Board.DecreeSlots,
		OfferTTL:    cfg.Board.OfferTTL,
	}
	if cfg.Board.DecreeItem != "" {
		boardOpts.Decree = quest.ItemStack{Item: quest.ItemRef(cfg.Board.DecreeItem), Qty: 1}
	}
	boards := board.NewManager(variants, catalog, boardOpts, board.Deps{
		DB:      db,
		Cache:   c,
		PubSub:  pubsub,
		Tickets: tickets,
		Hooks:   hooks,
		Audit:   auditSvc,
		Logger:  logger,
	})
	n, err := boards.LoadPlaced(ctx)
	if err != nil {
		logger.Warn("some board placements were not restored", zap.Error(err))
	}
	logger.Info("boards restored", zap.Int("count", n))

	bountySvc := bounty.NewService(bounty.Config{
		MaxActive: cfg.Board.MaxActiveTickets,
		TicketTTL: cfg.Board.TicketTimeout,
		Policy:    policy,
		MinLevel:  cfg.Board.MinLevelForTier,
	}, bounty.Deps{
		DB:        db,
		Boards:    boards,
		Tickets:   tickets,
		Profiles:  profiles,
		Inventory: inventory,
		Hooks:     hooks,
		Audit:     auditSvc,
		Logger:    logger,
	})

	go func() {
		if err := boards.Run(ctx); err != nil {
			logger.Error("board change listener stopped", zap.Error(err))
		}
	}()

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("board_tick", cfg.Board.TickInterval, func(context.Context) {
		boards.TickAll(time.Now())
	})
	sched.AddTicker("ticket_expiry", cfg.Board.ExpirySweep, func(ctx context.Context) {
		if n, err := bountySvc.SweepExpired(ctx); err != nil {
			logger.Warn("ticket expiry sweep incomplete", zap.Int("expired", n), zap.Error(err))
		}
	})
	sched.AddTicker("reward_retry", cfg.Board.RewardRetry, func(ctx context.Context) {
		if _, err := bountySvc.RetryRewards(ctx); err != nil {
			logger.Warn("reward retry incomplete", zap.Error(err))
		}
	})

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	wsRouter.Limit(mw.NewLimiters(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))
	apows.NewBoardHandlers(boards, bountySvc, inventory, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	auth := mw.Auth(cfg.Security, c)
	authH := apirest.NewAuthHandler(db, c, cfg.Security, logger)
	charH := apirest.NewCharacterHandler(db, bountySvc)
	invH := apirest.NewInventoryHandler(db, inventory)
	boardH := apirest.NewBoardHandler(db, boards)
	adminH := apirest.NewAdminHandler(apirest.AdminDeps{
		DB:         db,
		Sessions:   sm,
		Boards:     boards,
		Quests:     questLoader,
		QuestsPath: cfg.Quests.DefinitionsPath,
		Sched:      sched,
		Audit:      auditSvc,
		Logger:     logger,
	})

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(auth)
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.DELETE("/:id", charH.Delete)
		charsG.GET("/:id/tickets", charH.Tickets)
		charsG.GET("/:id/inventory", invH.List)

		boardsG := api.Group("/boards")
		boardsG.Use(auth)
		boardsG.GET("", boardH.List)
		boardsG.GET("/:id", boardH.Get)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), mw.AdminKey(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.POST("/characters/:id/profession", adminH.SetProfession)
		adminG.POST("/kick/:id", adminH.KickPlayer)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/scheduler/:name/run", adminH.RunTask)
		adminG.POST("/quests/reload", adminH.ReloadQuests)
		adminG.POST("/boards", adminH.PlaceBoard)
		adminG.DELETE("/boards/:id", adminH.DestroyBoard)
		adminG.GET("/boards/:id", adminH.BoardDetail)
		adminG.GET("/boards/:id/audit", adminH.BoardAudit)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(db, c, cfg.Security, sm, boards, profiles, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, logger)
	r.GET("/sse", auth, sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		sm.CloseAllSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server stopped")
}
