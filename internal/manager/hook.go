package manager

import (
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// eventHook logs supervisor events with zap
func eventHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		switch ev := e.(type) {
		case suture.EventServicePanic:
			logger.Error("Bot service panicked",
				zap.String("service", ev.ServiceName),
				zap.String("panic", ev.PanicMsg),
				zap.String("stacktrace", ev.Stacktrace),
				zap.Bool("restarting", ev.Restarting),
			)
		case suture.EventServiceTerminate:
			logger.Warn("Bot service terminated",
				zap.String("service", ev.ServiceName),
				zap.Any("error", ev.Err),
				zap.Float64("failures", ev.CurrentFailures),
				zap.Bool("restarting", ev.Restarting),
			)
		case suture.EventBackoff:
			logger.Warn("Supervisor backing off", zap.String("supervisor", ev.SupervisorName))
		case suture.EventResume:
			logger.Info("Supervisor resumed", zap.String("supervisor", ev.SupervisorName))
		case suture.EventStopTimeout:
			logger.Error("Bot service did not stop in time",
				zap.String("service", ev.ServiceName),
				zap.String("supervisor", ev.SupervisorName),
			)
		default:
			logger.Info(e.String())
		}
	}
}
