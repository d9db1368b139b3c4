// Package control exposes a running supervisor to local CLI invocations
// over the ipc pair channel. The daemon listens on a loopback control
// address; each CLI command connects, performs one request/response
// exchange, and disconnects.
package control

import (
	"time"

	"github.com/psantana5/procbox/pkg/store"
	"github.com/psantana5/procbox/pkg/task"
)

// Operation names accepted by the control server.
const (
	OpList    = "list"
	OpInfo    = "info"
	OpCreate  = "create"
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
	OpRemove  = "remove"
	OpStopAll = "stop-all"
	OpHistory = "history"
)

// DefaultAddr is the loopback control endpoint.
const DefaultAddr = "127.0.0.1:7463"

// Request is one control command.
type Request struct {
	Op        string       `json:"op"`
	ID        string       `json:"id,omitempty"`
	TimeoutMS int          `json:"timeout_ms,omitempty"`
	Target    *task.Target `json:"target,omitempty"`
}

// Timeout converts the request timeout, zero meaning the server default.
func (r Request) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// Response is the outcome of one control command.
type Response struct {
	OK          bool               `json:"ok"`
	Error       string             `json:"error,omitempty"`
	Tasks       []task.Info        `json:"tasks,omitempty"`
	Transitions []store.Transition `json:"transitions,omitempty"`
	Results     []OpResult         `json:"results,omitempty"`
}

// OpResult is a per-task outcome inside an aggregate response.
type OpResult struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

const (
	msgTypeRequest  = "request"
	msgTypeResponse = "response"
)
