package document

import (
	"github.com/smallbiznis/emissor/internal/document/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("document.repository",
	fx.Provide(repository.Provide),
)
