package efp

import (
	"fmt"

	logx "efpwatch/pkg/logx"
)

// leveledLogx adapts logx to retryablehttp.LeveledLogger. HTTP client errors
// are logged at WARN because they are retried.
type leveledLogx struct {
	inner logx.Logger
}

func (l leveledLogx) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, kvFields(keysAndValues)...)
}

func (l leveledLogx) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, kvFields(keysAndValues)...)
}

func (l leveledLogx) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, kvFields(keysAndValues)...)
}

func (l leveledLogx) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, kvFields(keysAndValues)...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			out = append(out, logx.Any("extra", kv[i]))
			break
		}
		if err, ok := kv[i+1].(error); ok {
			out = append(out, logx.String(key, err.Error()))
			continue
		}
		out = append(out, logx.Any(key, kv[i+1]))
	}
	return out
}
