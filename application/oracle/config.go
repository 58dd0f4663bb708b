package oracle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xAtelerix/yieldchain/application/contracts"
)

// TvlSource is the source address under which the TVL value is submitted.
//
//nolint:gochecknoglobals // derived constant
var TvlSource = contracts.SystemAddress("yieldchain.oracle.tvl")

type Config struct {
	// DefaultLockPeriod is used by Lock.
	DefaultLockPeriod time.Duration `yaml:"default_lock_period"`
	// MaxLockPeriod bounds LockFor.
	MaxLockPeriod time.Duration `yaml:"max_lock_period"`
	// MaxOverridePeriod bounds the validity of SetTvl.
	MaxOverridePeriod time.Duration `yaml:"max_override_period"`
	// DefaultStalePeriod applies to sources without their own period.
	DefaultStalePeriod time.Duration `yaml:"default_stale_period"`
}

func DefaultConfig() Config {
	return Config{
		DefaultLockPeriod:  2 * time.Minute,
		MaxLockPeriod:      time.Hour,
		MaxOverridePeriod:  24 * time.Hour,
		DefaultStalePeriod: 15 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.DefaultLockPeriod <= 0 {
		c.DefaultLockPeriod = def.DefaultLockPeriod
	}

	if c.MaxLockPeriod <= 0 {
		c.MaxLockPeriod = def.MaxLockPeriod
	}

	// Locks are kept in whole seconds.
	c.DefaultLockPeriod = max(c.DefaultLockPeriod, time.Second)
	c.MaxLockPeriod = max(c.MaxLockPeriod, time.Second)

	if c.DefaultLockPeriod > c.MaxLockPeriod {
		c.DefaultLockPeriod = c.MaxLockPeriod
	}

	if c.MaxOverridePeriod <= 0 {
		c.MaxOverridePeriod = def.MaxOverridePeriod
	}

	if c.DefaultStalePeriod <= 0 {
		c.DefaultStalePeriod = def.DefaultStalePeriod
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

func sourceKey(source common.Address) []byte {
	return append([]byte("src/"), source.Bytes()...)
}

func assetOverrideKey(asset common.Address) []byte {
	return append([]byte("asset/"), asset.Bytes()...)
}

//nolint:gochecknoglobals // fixed keys
var (
	lockKey        = []byte("lock")
	tvlOverrideKey = []byte("tvl")
)
