// Package cli parses lookout command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandToggle  Command = "toggle"
	CommandSwitch  Command = "switch"
	CommandStatus  Command = "status"
	CommandQuit    Command = "quit"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandStart:   {},
	CommandStop:    {},
	CommandToggle:  {},
	CommandSwitch:  {},
	CommandStatus:  {},
	CommandQuit:    {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// Forwarded reports whether the command is relayed to a running owner over IPC.
func (c Command) Forwarded() bool {
	switch c {
	case CommandStart, CommandStop, CommandToggle, CommandSwitch, CommandStatus, CommandQuit:
		return true
	default:
		return false
	}
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  run       Open the camera, start a session, and serve control commands
  start     Start a session in the running owner
  stop      Stop the active session (camera stays open)
  toggle    Start a session, or stop it when already active
  switch    Switch between front and back cameras
  status    Print current state and status message
  quit      Stop any session and exit the running owner
  devices   List cameras and microphones
  doctor    Run configuration, device, and endpoint checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/lookout/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
