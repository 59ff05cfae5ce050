package clock

import "go.uber.org/fx"

// Module provides the system clock to the fx graph. Tests substitute
// a Fixed clock directly instead of going through fx.
var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
