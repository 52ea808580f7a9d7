package fiscalevent

import (
	"github.com/smallbiznis/emissor/internal/fiscalevent/repository"
	"github.com/smallbiznis/emissor/internal/fiscalevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fiscalevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
