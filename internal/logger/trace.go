// Package logger holds the daemon's log sinks: a logrus adapter for pump
// trace events and a CSV recorder for pump status.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/hplc-pump/internal/protocol"
)

var _ protocol.Logger = (*Trace)(nil)

// Trace forwards key/value trace events to logrus.
type Trace struct {
	entry *logrus.Entry
}

// NewTrace wraps l. A nil l uses the standard logrus logger.
func NewTrace(l *logrus.Logger) *Trace {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Trace{entry: logrus.NewEntry(l)}
}

// With returns a Trace that adds fixed fields to every event.
func (t *Trace) With(keysAndValues ...interface{}) *Trace {
	return &Trace{entry: t.entry.WithFields(fields(keysAndValues))}
}

func (t *Trace) Debug(msg string, keysAndValues ...interface{}) {
	t.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (t *Trace) Info(msg string, keysAndValues ...interface{}) {
	t.entry.WithFields(fields(keysAndValues)).Info(msg)
}

func (t *Trace) Error(msg string, keysAndValues ...interface{}) {
	t.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// fields pairs up keys and values. A trailing key without a value is kept
// under "!BADKEY".
func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			f["!BADKEY"] = key
			break
		}
		f[key] = kv[i+1]
	}
	return f
}
