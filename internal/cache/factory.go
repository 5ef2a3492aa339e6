package cache

import "fmt"

// Config selects and configures a CodeCache backend.
type Config struct {
	Driver     string // memory, redis
	Prefix     string
	MemoryPath string
	Redis      RedisConfig
}

// New creates the CodeCache selected by cfg.Driver.
func New(cfg Config) (CodeCache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewBuntCodeCache(cfg.MemoryPath)
	case "redis":
		return NewRedisCodeCache(cfg.Redis, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}
