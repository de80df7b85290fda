package approval

import (
	"go.uber.org/fx"
)

var Module = fx.Module("approval.module",
	fx.Provide(NewService),
)
