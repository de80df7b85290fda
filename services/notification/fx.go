package notification

import (
	"go.uber.org/fx"
)

var Module = fx.Module("notification.module",
	fx.Provide(NewDispatcher),
)

var WorkerModule = fx.Module("notification.worker",
	fx.Provide(NewHandler),
)
