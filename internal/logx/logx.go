// Package logx gives channel-based logging to the supervisor, the same
// vocabulary as the teacher's hand-rolled msg package (Error/Warning/Trace,
// individually enabled channels) but backed by logrus so levels, formatting,
// and output routing come from a real logging library instead of ad hoc
// ANSI escapes.
package logx

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Channel is a named conduit for logging. Channels can be enabled or
// disabled individually at runtime via the DEBUG environment variable,
// matching the teacher's msg.Channel contract.
type Channel struct {
	entry *logrus.Entry
	on    bool
}

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.DebugLevel)
}

// NewChannel returns a Channel named name, gated by the DEBUG environment
// variable: "+all" enables every channel at trace level; a comma-separated
// list of channel names enables only those; otherwise the channel logs
// errors and warnings only.
func NewChannel(name string) *Channel {
	c := &Channel{entry: base.WithField("channel", name)}
	c.applyEnv(os.Getenv("DEBUG"))
	return c
}

func (c *Channel) applyEnv(dbg string) {
	if dbg == "+all" {
		c.on = true
		return
	}
	for _, want := range strings.Split(dbg, ",") {
		if want != "" && want == c.entry.Data["channel"] {
			c.on = true
			return
		}
	}
}

// Error logs a formatted error-level message. Always emitted, regardless of
// whether the channel's trace gate is on.
func (c *Channel) Error(format string, a ...interface{}) {
	c.entry.Errorf(format, a...)
}

// Warning logs a formatted warning-level message. Always emitted.
func (c *Channel) Warning(format string, a ...interface{}) {
	c.entry.Warnf(format, a...)
}

// Trace logs a formatted trace-level message, only when this channel is
// enabled.
func (c *Channel) Trace(format string, a ...interface{}) {
	if !c.on {
		return
	}
	c.entry.Debugf(format, a...)
}
