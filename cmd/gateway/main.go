package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPresence/data/database"
	"PPresence/global/config"
	"PPresence/logger"
	mid "PPresence/middleware"
	midsec "PPresence/middleware/security"
	"PPresence/service/admin"
	"PPresence/service/backplane"
	"PPresence/service/expiry"
	"PPresence/service/gateway"
	"PPresence/service/identity"
	"PPresence/service/natsx"
	"PPresence/service/notify"
	"PPresence/service/storage"
	rstore "PPresence/service/storage/redis"
	"PPresence/tools/ids"
	"PPresence/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		logger.Error("[main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) 配置 + 日志 + 节点ID
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	nodeID := cfg.NodeId
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	idgen := ids.NewGenerator(ids.NodeIDFromString(nodeID))
	logger.Info("[main] starting", zap.String("node", nodeID), zap.String("backplane", cfg.Backplane))

	// 2) Redis: presence store, cleared at boot
	rdb, err := rstore.Open(ctx, rstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	presence := storage.NewPresenceStore(rdb)
	cleared, err := presence.ClearAll(ctx)
	if err != nil {
		return errors.Wrap(err, "clear presence")
	}
	logger.Info("[main] presence cleared", zap.Int("keys", cleared))

	// 3) Postgres
	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, "up"); err != nil {
			return err
		}
	}
	pool, err := database.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	notes := database.NewNotificationRepo(pool)
	users := database.NewUserRepo(pool)
	sessions := database.NewSessionRepo(pool)

	// 4) Backplane
	bp, err := openBackplane(cfg, rdb, nodeID)
	if err != nil {
		return err
	}
	defer func() { _ = bp.Close() }()

	// 5) Gateway + engine + background loops
	auth := identity.NewAuthenticator(identity.Options{
		Secret: []byte(cfg.JWTSecret),
		Alg:    cfg.JWTAlg,
	}, users, sessions)

	gw, err := gateway.New(gateway.Options{
		NodeID:          nodeID,
		SuperuserRole:   cfg.SuperuserRole,
		AuthCookie:      cfg.AuthCookie,
		SendQueueSize:   cfg.SendQueueSize,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		RevocationRelay: cfg.RevocationRelay,
	}, gateway.Deps{
		Presence:  presence,
		Inbox:     notes,
		Sessions:  sessions,
		Auth:      auth,
		Backplane: bp,
		IDs:       idgen,
	})
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Shutdown()

	engine := notify.NewEngine(notes, gw)
	sweeper := expiry.NewSweeper(expiry.Config{
		Every:      cfg.ExpirySweepEvery,
		CloseAfter: cfg.ExpiryCloseAfter,
	}, sessions, gw)

	if cfg.ExpirySweepEvery > 0 {
		safe.Go("expiry-sweep", func() { sweeper.Run(ctx) })
	}
	if cfg.RetentionEvery > 0 && cfg.RetentionMaxAgeDays > 0 {
		safe.Go("retention", func() { engine.RunRetention(ctx, cfg.RetentionEvery, cfg.RetentionMaxAgeDays) })
	}

	// 6) HTTP + WebSocket
	gin.SetMode(gin.ReleaseMode)
	mids := mid.NewManager()
	mids.Add(mid.Recovery())
	mids.Add(mid.AccessLog())
	mids.Add(mid.Origin("/ws", cfg.Origins()))

	r := gin.New()
	r.Use(mids.Use())
	r.GET("/ws", gw.HandleWS)

	admin.NewHandler(admin.Deps{
		Notifications: engine,
		Presence:      gw,
		Sweeper:       sweeper,
		Health: map[string]admin.HealthCheck{
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"postgres": pool.Ping,
		},
		RetentionMaxAgeDays: cfg.RetentionMaxAgeDays,
	}).Register(r, midsec.DefaultOptions(cfg.AdminAPIKey))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	safe.Go("http", func() {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	// 7) 优雅退出
	select {
	case <-ctx.Done():
		logger.Info("[main] shutting down")
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackplane(cfg *config.AppConfig, rdb redis.UniversalClient, nodeID string) (backplane.Backplane, error) {
	switch cfg.Backplane {
	case config.BackplaneNATS:
		// dedup ids are per node; every node must consume each broadcast once
		idem := natsx.NewRedisIdem(rdb, cfg.BackplanePrefix+":idem:"+nodeID+":", 0)
		return backplane.NewNATS(natsx.NatsxConfig{
			Servers:  cfg.NatsServers(),
			Name:     "presence-" + nodeID,
			User:     cfg.NatsUser,
			Password: cfg.NatsPass,
		}, cfg.BackplanePrefix, nodeID, idem)
	case config.BackplaneRedis:
		return backplane.NewRedis(rdb, cfg.BackplanePrefix, nodeID), nil
	default:
		logger.Warn("[main] local backplane: broadcasts stay in this process")
		return backplane.NewLocal(backplane.NewLocalBus(), nodeID), nil
	}
}
