package app

import (
	"context"

	"github.com/signalsfoundry/multisystem-simulator/core"
)

// Builders returns the application builders interface setup uses.
func Builders() map[string]core.AppBuilder {
	broadcast := func(_ context.Context, in core.AppBuildInput) (core.Application, error) {
		return NewBroadcastApp(in)
	}
	return map[string]core.AppBuilder{
		core.AppDsrcBsm:      broadcast,
		core.AppItsBroadcast: broadcast,
		core.AppDot15:        broadcast,
		core.AppT109: func(_ context.Context, in core.AppBuildInput) (core.Application, error) {
			return NewT109App(in)
		},
	}
}
