package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GatewayConfig holds the fiscal gateway endpoints and submit timeout.
// Endpoint selection is by tenant environment only; there is no fallback
// chain for endpoints, unlike credentials.
type GatewayConfig struct {
	ProductionURL  string `mapstructure:"productionUrl"`
	SandboxURL     string `mapstructure:"sandboxUrl"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ProductionURL:  "https://api.focusnfe.com.br",
		SandboxURL:     "https://homologacao.focusnfe.com.br",
		TimeoutSeconds: 30,
	}
}

func (c GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GatewayConfigHolder serves the current gateway config and hot-reloads it
// when the backing file changes.
type GatewayConfigHolder struct {
	current atomic.Value // holds GatewayConfig
}

func NewGatewayConfigHolder() (*GatewayConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/emissor/config") // Volume-mounted config
	v.AddConfigPath("/etc/emissor")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("EMISSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGatewayConfig()
	v.SetDefault("gateway.productionUrl", defaults.ProductionURL)
	v.SetDefault("gateway.sandboxUrl", defaults.SandboxURL)
	v.SetDefault("gateway.timeoutSeconds", defaults.TimeoutSeconds)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg GatewayConfig
	if err := v.UnmarshalKey("gateway", &cfg); err != nil {
		return nil, err
	}
	if err := validateGatewayConfig(cfg); err != nil {
		return nil, err
	}

	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayConfig
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Printf("[gateway-config] reload failed: %v", err)
			return
		}
		if err := validateGatewayConfig(updated); err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticGatewayConfigHolder pins a holder to cfg without file watching.
func StaticGatewayConfigHolder(cfg GatewayConfig) *GatewayConfigHolder {
	holder := &GatewayConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *GatewayConfigHolder) Get() GatewayConfig {
	return h.current.Load().(GatewayConfig)
}

func validateGatewayConfig(cfg GatewayConfig) error {
	if strings.TrimSpace(cfg.ProductionURL) == "" {
		return errors.New("gateway.productionUrl cannot be empty")
	}
	if strings.TrimSpace(cfg.SandboxURL) == "" {
		return errors.New("gateway.sandboxUrl cannot be empty")
	}
	return nil
}
