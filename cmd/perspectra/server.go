package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/agent/persistence"
	"github.com/BaSui01/perspectra/agent/persona"
	"github.com/BaSui01/perspectra/agent/session"
	"github.com/BaSui01/perspectra/api/handlers"
	"github.com/BaSui01/perspectra/config"
	"github.com/BaSui01/perspectra/internal/cache"
	"github.com/BaSui01/perspectra/internal/database"
	"github.com/BaSui01/perspectra/internal/metrics"
	"github.com/BaSui01/perspectra/internal/migration"
	"github.com/BaSui01/perspectra/internal/server"
	"github.com/BaSui01/perspectra/internal/telemetry"
	"github.com/BaSui01/perspectra/internal/tlsutil"
	"github.com/BaSui01/perspectra/llm/providers/perplexity"
)

// 无需认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

const dbStatsInterval = 15 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有 serve 命令的全部组件
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	pool    *database.PoolManager
	cache   *cache.Manager
	store   persistence.ConversationStore
	manager *session.Manager
	health  *handlers.HealthHandler

	reloader       *config.Reloader
	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 按配置装配所有组件。失败时已打开的资源会被释放。
func NewServer(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) (srv *Server, err error) {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		registry:   prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			s.release(context.Background())
		}
	}()

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("perspectra", s.registry, logger)

	// 1. 遥测
	s.otel, err = telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
		s.otel, err = nil, nil
	}

	// 2. 存储
	if err = s.initStore(ctx); err != nil {
		return nil, err
	}

	// 3. 会话管理器
	if err = s.initSessions(); err != nil {
		return nil, err
	}

	// 4. HTTP
	s.initHealth()
	if err = s.initHTTP(ctx); err != nil {
		return nil, err
	}

	// 5. 配置热更新
	if configPath != "" {
		s.reloader, err = config.NewReloader(configPath, cfg, config.WithReloadLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("config reloader: %w", err)
		}
		s.reloader.OnReload(s.applyConfig)
	}
	return s, nil
}

func (s *Server) initStore(ctx context.Context) error {
	storeCfg := persistence.DefaultStoreConfig()
	storeCfg.Type = persistence.StoreType(s.cfg.Boardroom.Store)

	if s.cfg.Boardroom.Store == config.StoreDatabase {
		pool, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		s.pool = pool
		if s.cfg.Database.AutoMigrate {
			if err := migration.MigrateUp(ctx, s.cfg.Database, s.logger); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}
	}

	store, err := persistence.NewConversationStore(storeCfg, s.gormDB(), s.logger)
	if err != nil {
		return err
	}
	s.store = store

	if s.cfg.Redis.Enabled {
		cc := cache.DefaultConfig()
		cc.Addr = s.cfg.Redis.Addr
		cc.Password = s.cfg.Redis.Password
		cc.DB = s.cfg.Redis.DB
		cc.TLSEnabled = s.cfg.Redis.TLSEnabled
		if s.cfg.Redis.PoolSize > 0 {
			cc.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cc.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		if s.cfg.Redis.KeyPrefix != "" {
			cc.KeyPrefix = s.cfg.Redis.KeyPrefix
		}
		m, err := cache.NewManager(cc, s.logger)
		if err != nil {
			// 状态快照只是加速，Redis 不可用时继续运行
			s.logger.Warn("redis unavailable, state cache disabled", zap.Error(err))
		} else {
			s.cache = m
		}
	}

	s.logger.Info("conversation store ready",
		zap.String("store", s.cfg.Boardroom.Store),
		zap.Bool("state_cache", s.cache != nil))
	return nil
}

func (s *Server) gormDB() *gorm.DB {
	if s.pool == nil {
		return nil
	}
	return s.pool.DB()
}

func (s *Server) initSessions() error {
	pcfg := s.cfg.Perplexity
	client, err := perplexity.NewClient(perplexity.Config{
		APIKey:      pcfg.APIKey,
		BaseURL:     pcfg.BaseURL,
		Model:       pcfg.Model,
		SearchModel: pcfg.SearchModel,
		Temperature: pcfg.Temperature,
		MaxTokens:   pcfg.MaxTokens,
		Timeout:     pcfg.Timeout,
		RateLimit:   pcfg.RateLimit,
		Burst:       pcfg.Burst,

		SearchDomainFilter: pcfg.SearchDomainFilter,
	},
		perplexity.WithHTTPClient(tlsutil.NewHTTPClient(tlsutil.ClientOptions{Timeout: pcfg.Timeout})),
		perplexity.WithLogger(s.logger),
		perplexity.WithRecorder(s.collector),
	)
	if err != nil {
		return fmt.Errorf("perplexity client: %w", err)
	}

	counter := persona.NewTiktokenCounter(pcfg.Encoding, s.logger)
	gateway := perplexity.NewGateway(client, persona.NewBuilder(counter, pcfg.HistoryTokens))

	opts := []session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.collector),
		session.WithMeter(s.otel.Meter("perspectra/session")),
		session.WithEngineOptions(boardroom.WithTracer(s.otel.Tracer("perspectra/boardroom"))),
	}
	if s.cache != nil {
		opts = append(opts, session.WithStateCache(persistence.NewStateCache(s.cache, s.cfg.Redis.StateTTL)))
	}
	s.manager = session.NewManager(s.store, gateway, s.cfg.Boardroom, opts...)
	return nil
}

func (s *Server) initHealth() {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.SetActiveSessions(s.manager.Active)
	s.health.RegisterCheck(handlers.NewPingCheck("store", s.store.Ping))
	if s.pool != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.cache != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	origins := s.cfg.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conversations := handlers.NewConversationHandler(s.manager, s.logger,
		handlers.WithOriginPatterns(origins...))
	conversations.Register(mux)

	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}
	return mux
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func (s *Server) initHTTP(ctx context.Context) error {
	sc := s.cfg.Server

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(sc.CORSAllowedOrigins),
	}
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, float64(sc.RateLimitRPS), sc.RateLimitBurst, s.logger))
	}
	switch {
	case s.cfg.JWT.Enabled:
		chain = append(chain, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	case len(sc.APIKeys) > 0:
		chain = append(chain, APIKeyAuth(sc.APIKeys, skipAuthPaths, s.logger))
	default:
		s.logger.Warn("authentication disabled: all conversations share one owner")
	}

	s.httpManager = server.NewManager(Chain(s.routes(), chain...), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
	// 关闭 HTTP 服务时同时结束会话，事件流随之收到关闭帧
	s.httpManager.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer cancel()
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Warn("session shutdown incomplete", zap.Error(err))
		}
	})

	if sc.MetricsPort > 0 && sc.MetricsPort != sc.HTTPPort {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		s.metricsManager = server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		}, s.logger)
	}
	return nil
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run serves until ctx is cancelled or a server fails, then releases
// every component.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	if s.pool != nil {
		g.Go(func() error {
			s.reportDBStats(gctx)
			return nil
		})
	}
	if s.reloader != nil {
		if err := s.reloader.Start(gctx); err != nil {
			s.logger.Warn("config reload disabled", zap.Error(err))
		}
	}
	s.manager.StartReaper(gctx, s.cfg.Boardroom.IdleTimeout)

	s.logger.Info("Perspectra started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("jwt", s.cfg.JWT.Enabled))

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.release(shutdownCtx)

	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// release 按依赖的反序关闭组件，可重复调用
func (s *Server) release(ctx context.Context) {
	if s.reloader != nil {
		s.reloader.Stop()
	}
	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Warn("session shutdown incomplete", zap.Error(err))
		}
	}
	// 数据库后端与连接池共用同一个 *sql.DB，由 pool 关闭
	if s.store != nil && s.pool == nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close store", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("close redis", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Warn("close database", zap.Error(err))
		}
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func (s *Server) reportDBStats(ctx context.Context) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.pool.Stats()
			s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
		}
	}
}

// applyConfig 热更新只应用可在线调整的部分：日志级别与会话节奏边界。
// 端口、存储、认证等变更需要重启。
func (s *Server) applyConfig(old, next *config.Config) {
	if old.Log.Level != next.Log.Level {
		s.level.SetLevel(parseLevel(next.Log.Level))
		s.logger.Info("log level changed", zap.String("level", next.Log.Level))
	}
	s.manager.SetBounds(next.Boardroom)

	if old.Server.HTTPPort != next.Server.HTTPPort ||
		old.Boardroom.Store != next.Boardroom.Store ||
		old.JWT != next.JWT {
		s.logger.Warn("config change requires restart to take effect")
	}
}
