package config

import "time"

// IdempotencyConfig defines settings for the Idempotency-Key replay
// middleware. When Enabled is false or no Redis client is configured the
// header is ignored. MaxBodyBytes caps the size of a stored response.
type IdempotencyConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	TTL          time.Duration `env:"TTL" envDefault:"24h"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	Prefix       string        `env:"PREFIX" envDefault:"idem"`
	MaxBodyBytes int           `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

func (c *IdempotencyConfig) normalize() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "idem"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}
