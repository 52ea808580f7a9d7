package fiscalconfig

import (
	"github.com/smallbiznis/emissor/internal/fiscalconfig/repository"
	"github.com/smallbiznis/emissor/internal/fiscalconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fiscalconfig.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolver),
)
