package clock

import "go.uber.org/fx"

// Module provides the wall clock to every service.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
