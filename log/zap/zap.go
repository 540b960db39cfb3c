// Package zap adapts a *zap.Logger to the cache.Logger interface.
package zap

import (
	"go.uber.org/zap"

	"github.com/kvstash/cache"
)

type Logger struct{ L *zap.Logger }

var _ cache.Logger = Logger{}

func (z Logger) Debug(msg string, f cache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f cache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f cache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f cache.Fields) { z.L.Error(msg, fields(f)...) }

func fields(f cache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
