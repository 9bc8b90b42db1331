// =============================================================================
// 📦 Perspectra 默认配置
// =============================================================================
package config

import "time"

// 会话存储类型
const (
	StoreMemory   = "memory"
	StoreDatabase = "database"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		JWT:        DefaultJWTConfig(),
		Boardroom:  DefaultBoardroomConfig(),
		Perplexity: DefaultPerplexityConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer: "perspectra",
	}
}

// DefaultBoardroomConfig 返回默认会议室配置
func DefaultBoardroomConfig() BoardroomConfig {
	return BoardroomConfig{
		SpeakingInterval:  3 * time.Second,
		MinInterval:       1 * time.Second,
		MaxInterval:       10 * time.Second,
		IntervalStep:      500 * time.Millisecond,
		ModeratorEvery:    4,
		ClaimGap:          2,
		DevilCooldown:     4,
		GenerationTimeout: 45 * time.Second,
		Store:             StoreMemory,
		IdleTimeout:       30 * time.Minute,
	}
}

// DefaultPerplexityConfig 返回默认 Perplexity 配置
func DefaultPerplexityConfig() PerplexityConfig {
	return PerplexityConfig{
		BaseURL:       "https://api.perplexity.ai",
		Model:         "sonar",
		SearchModel:   "sonar-pro",
		Temperature:   0.7,
		MaxTokens:     800,
		Timeout:       60 * time.Second,
		RateLimit:     2,
		Burst:         4,
		HistoryTokens: 3000,
		Encoding:      "cl100k_base",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "perspectra",
		Name:            "perspectra",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "perspectra:",
		StateTTL:     24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "perspectra",
		SampleRate:   0.1,
	}
}
