package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `mapstructure:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// Policy controls which passwords are accepted at registration.
type Policy struct {
	MinLength      int  `mapstructure:"min_length"`
	MaxLength      int  `mapstructure:"max_length"`
	RejectVeryWeak bool `mapstructure:"reject_very_weak"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams `mapstructure:"argon2"`
	Policy Policy         `mapstructure:"policy"`
}

// DefaultConfig returns the baseline used when nothing is configured.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig and checks the result.
func (c Config) WithDefaults() (Config, error) {
	def := DefaultConfig()

	if c.Params.MemoryKiB == 0 {
		c.Params.MemoryKiB = def.Params.MemoryKiB
	}
	if c.Params.Iterations == 0 {
		c.Params.Iterations = def.Params.Iterations
	}
	if c.Params.Parallelism == 0 {
		c.Params.Parallelism = def.Params.Parallelism
	}
	if c.Params.SaltLength == 0 {
		c.Params.SaltLength = def.Params.SaltLength
	}
	if c.Params.KeyLength == 0 {
		c.Params.KeyLength = def.Params.KeyLength
	}
	if c.Policy.MinLength <= 0 {
		c.Policy.MinLength = def.Policy.MinLength
	}
	if c.Policy.MaxLength <= 0 {
		c.Policy.MaxLength = def.Policy.MaxLength
	}

	switch {
	case c.Params.MemoryKiB < 8*1024:
		return Config{}, fmt.Errorf("%w: argon2 memory below 8 MiB", ErrInvalidConfig)
	case c.Params.SaltLength < 8 || c.Params.SaltLength > 64:
		return Config{}, fmt.Errorf("%w: salt length out of range [8..64]", ErrInvalidConfig)
	case c.Params.KeyLength < 16 || c.Params.KeyLength > 64:
		return Config{}, fmt.Errorf("%w: key length out of range [16..64]", ErrInvalidConfig)
	case c.Policy.MinLength > c.Policy.MaxLength:
		return Config{}, fmt.Errorf("%w: min_length(%d) > max_length(%d)", ErrInvalidConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return c, nil
}
