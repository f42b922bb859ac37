package supervisor

import (
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// EventHook logs supervisor events. Panics and stop timeouts are errors,
// backoff is a warning, the rest is informational.
func EventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, 4)
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}

		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
			log.Error(e.String(), fields...)
		case suture.EventTypeBackoff, suture.EventTypeServiceTerminate:
			log.Warn(e.String(), fields...)
		default:
			log.Info(e.String(), fields...)
		}
	}
}
