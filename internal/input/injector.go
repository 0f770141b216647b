// Package input defines the boundary to the platform input-injection
// collaborator. Real keyboard/mouse synthesis lives outside this module
// (§1); only the interface and a logging stand-in live here.
package input

import "github.com/lqmydesk/agent/internal/logging"

// Command is one parsed data-channel input message (§4.3). Fields beyond
// Cmd are command-specific and left loosely typed since the wire shape
// varies by Cmd.
type Command struct {
	Cmd    string  `json:"cmd"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Button string  `json:"button,omitempty"`
	Key    string  `json:"key,omitempty"`
	Delta  float64 `json:"delta,omitempty"`
}

// Injector synthesizes a parsed input command on the local desktop.
type Injector interface {
	Inject(cmd Command) error
}

// NoopInjector logs every command instead of acting on it. It is the
// default wired in when no platform-specific injector is supplied.
type NoopInjector struct{}

var noopLog = logging.L("input.noop")

func (NoopInjector) Inject(cmd Command) error {
	noopLog.Debug("input command received", "cmd", cmd.Cmd)
	return nil
}
