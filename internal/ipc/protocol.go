// Package ipc carries owner-control commands over a newline-delimited JSON unix socket.
package ipc

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Commands accepted by the session owner.
const (
	CommandStatus = "status"
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandToggle = "toggle"
	CommandSwitch = "switch"
	CommandQuit   = "quit"
)

// Request is one client command.
type Request struct {
	Command string `json:"command"`
}

// Response is the owner's answer. State carries the session state name.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
