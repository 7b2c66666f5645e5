package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	JWTSecret     string `env:"JWT_SECRET"`

	ChatBufferTTL     time.Duration `env:"CHAT_BUFFER_TTL" envDefault:"60m"`
	ChatRetention     time.Duration `env:"CHAT_RETENTION" envDefault:"720h"`
	ChatFlushInterval time.Duration `env:"CHAT_FLUSH_INTERVAL" envDefault:"5m"`
	ChatPruneInterval time.Duration `env:"CHAT_PRUNE_INTERVAL" envDefault:"24h"`
	ChatRateWindow    time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"3s"`
	ChatRateBurst     int           `env:"CHAT_RATE_BURST" envDefault:"5"`

	SSETimeout           time.Duration `env:"SSE_TIMEOUT" envDefault:"30m"`
	SSEHeartbeatInterval time.Duration `env:"SSE_HEARTBEAT_INTERVAL" envDefault:"30s"`
	SSEEventCacheSize    int           `env:"SSE_EVENT_CACHE_SIZE" envDefault:"50"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
