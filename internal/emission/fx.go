package emission

import (
	"github.com/smallbiznis/emissor/internal/emission/gateway"
	"github.com/smallbiznis/emissor/internal/emission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("emission",
	fx.Provide(
		gateway.NewClient,
		service.NewService,
	),
)
