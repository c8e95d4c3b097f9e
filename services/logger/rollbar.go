package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/user"
)

// RollbarLogger reports to Rollbar and mirrors every entry on a std logger.
// Entries about a resident carry their community and role as custom data,
// so the reports of one neighbourhood can be filtered together.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

// NewTestLogger returns a disabled RollbarLogger writing to std.
func NewTestLogger(std *log.Logger) *RollbarLogger {
	rollbar.SetEnabled(false)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry is a log call split into what Rollbar understands.
type entry struct {
	msg      string
	err      error
	extras   map[string]interface{}
	resident *user.User
	rest     []interface{}
}

// newEntry sorts args: the first error, the first user.User, extra data maps (merged) and anything else.
func newEntry(msg string, args []interface{}) entry {
	e := entry{msg: msg, extras: make(map[string]interface{})}
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			if e.err == nil {
				e.err = v
				continue
			}
			e.rest = append(e.rest, v)
		case user.User:
			if e.resident == nil {
				usr := v
				e.resident = &usr
			}
		case map[string]interface{}:
			for k, val := range v {
				e.extras[k] = val
			}
		default:
			e.rest = append(e.rest, v)
		}
	}
	if e.resident != nil {
		if e.resident.CommunityID != "" {
			e.extras["community_id"] = e.resident.CommunityID
		}
		e.extras["role"] = e.resident.Role
	}
	for i, v := range e.rest {
		e.extras[fmt.Sprintf("arg%d", i)] = fmt.Sprintf("%+v", v)
	}
	return e
}

// rollbarArgs sets the person of the report and returns the arguments of a rollbar call.
func (e entry) rollbarArgs() []interface{} {
	if e.resident != nil {
		rollbar.SetPerson(e.resident.ID, e.resident.Name, e.resident.Email)
	} else {
		rollbar.ClearPerson()
	}
	args := []interface{}{e.msg}
	if e.err != nil {
		args = []interface{}{e.err}
		e.extras["message"] = e.msg
	}
	if len(e.extras) > 0 {
		args = append(args, e.extras)
	}
	return args
}

func (e entry) String() string {
	var b strings.Builder
	b.WriteString(e.msg)
	if e.err != nil {
		fmt.Fprintf(&b, ": %+v", e.err)
	}
	if e.resident != nil {
		fmt.Fprintf(&b, " [resident %s <%s>]", e.resident.ID, e.resident.Email)
	}
	keys := make([]string, 0, len(e.extras))
	for k := range e.extras {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.extras[k])
	}
	return b.String()
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Debug(e.rollbarArgs()...)
	l.std.Println("DEBUG " + e.String())
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Info(e.rollbarArgs()...)
	l.std.Println("INFO " + e.String())
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Warning(e.rollbarArgs()...)
	l.std.Println("WARN " + e.String())
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Error(e.rollbarArgs()...)
	l.std.Println("ERROR " + e.String())
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := newEntry(msg, args)
	rollbar.Critical(e.rollbarArgs()...)
	rollbar.Wait()
	l.std.Fatal("FATAL " + e.String())
}
