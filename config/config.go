package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// 数据库配置
	DatabaseURL string

	// 服务器配置
	Port string

	// AMQP 配置 (为空则不启用对外镜像通知)
	AMQPUrl      string
	AMQPExchange string

	// 缓存配置
	StateCacheTTL   time.Duration // 比赛状态缓存 (变化快)
	SummaryCacheTTL time.Duration // 比赛摘要缓存
	ListingCacheTTL time.Duration // 直播列表缓存 (变化慢)

	// 其他配置
	Environment string
}

func Load() *Config {
	return &Config{
		// 数据库配置
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/matchday?sslmode=disable"),

		// 服务器配置
		Port: getEnv("PORT", "8080"),

		// AMQP 配置
		AMQPUrl:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "matchday.notifications"),

		// 缓存配置
		StateCacheTTL:   getEnvDuration("STATE_CACHE_TTL_SECONDS", 15),
		SummaryCacheTTL: getEnvDuration("SUMMARY_CACHE_TTL_SECONDS", 60),
		ListingCacheTTL: getEnvDuration("LISTING_CACHE_TTL_SECONDS", 300),

		// 其他配置
		Environment: getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	var result int
	fmt.Sscanf(value, "%d", &result)
	if result <= 0 {
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(result) * time.Second
}
