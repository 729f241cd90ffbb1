package obs

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZerologLogger adapts the package-global zerolog logger (initialized via
// observability.InitLogger) to the service.Logger interface, so Service can
// take any structured logger without importing observability directly.
type ZerologLogger struct{}

func (ZerologLogger) Info(msg string, fields map[string]any)  { emit(log.Info(), msg, fields) }
func (ZerologLogger) Error(msg string, fields map[string]any) { emit(log.Error(), msg, fields) }
func (ZerologLogger) Debug(msg string, fields map[string]any) { emit(log.Debug(), msg, fields) }

func emit(ev *zerolog.Event, msg string, fields map[string]any) {
	ev.Fields(fields).Msg(msg)
}
