package service

import (
	"strings"

	"github.com/smallbiznis/emissor/internal/config"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	"github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	GatewayCfg *config.GatewayConfigHolder
}

type Resolver struct {
	log         *zap.Logger
	masterToken string
	gatewayCfg  *config.GatewayConfigHolder
}

func NewResolver(p Params) domain.Resolver {
	return &Resolver{
		log:         p.Log.Named("fiscalconfig.resolver"),
		masterToken: p.Cfg.GatewayMasterToken,
		gatewayCfg:  p.GatewayCfg,
	}
}

// Credential walks the fallback chain: environment slot, legacy token,
// master token. An empty result is fatal for the attempt; there is nothing
// to retry.
func (r *Resolver) Credential(cfg *domain.FiscalConfig) (string, error) {
	if cfg == nil {
		return "", &documentdomain.ConfigurationError{Message: "fiscal configuration is missing"}
	}

	var token string
	switch cfg.Environment {
	case domain.EnvironmentProduction:
		token = strings.TrimSpace(cfg.ProductionToken)
	default:
		token = strings.TrimSpace(cfg.SandboxToken)
	}

	if token == "" {
		token = strings.TrimSpace(cfg.LegacyToken)
	}
	if token == "" {
		token = strings.TrimSpace(r.masterToken)
	}
	if token == "" {
		return "", &documentdomain.ConfigurationError{
			Message: "no gateway credential configured for environment " + string(cfg.Environment),
		}
	}
	return token, nil
}

// Endpoint has no fallback chain: environment alone picks the base URL.
func (r *Resolver) Endpoint(cfg *domain.FiscalConfig) string {
	gateway := r.gatewayCfg.Get()
	if cfg != nil && cfg.Environment == domain.EnvironmentProduction {
		return gateway.ProductionURL
	}
	return gateway.SandboxURL
}
