package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/metriqhq/metriq/internal/pricing"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingHolder serves the live pricing config. Reloads swap the whole
// value atomically; an invalid file keeps the last good config.
type PricingHolder struct {
	current atomic.Value // holds pricing.Config
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	log = log.Named("pricing.config")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/metriq/config") // Volume-mounted config
	v.AddConfigPath("/etc/metriq")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("METRIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := pricing.DefaultConfig()
	if fileFound {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := pricing.DefaultConfig()
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Warn("pricing reload failed", zap.String("file", e.Name), zap.Error(err))
				return
			}
			if err := updated.Validate(); err != nil {
				log.Warn("invalid pricing config ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pricing config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticPricingHolder pins a config, bypassing file discovery. Used by
// tests and embedded setups.
func NewStaticPricingHolder(cfg pricing.Config) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingHolder) Current() pricing.Config {
	return h.current.Load().(pricing.Config)
}
