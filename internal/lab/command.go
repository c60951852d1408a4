package lab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownCommand is returned for command names the lab does not handle.
	ErrUnknownCommand = errors.New("unknown lab command")
	// ErrInvalidCommand is returned for malformed or incomplete commands.
	ErrInvalidCommand = errors.New("invalid lab command")
)

// Command names accepted by Apply.
const (
	CommandSetAngle           = "set_angle"
	CommandSetVelocity        = "set_velocity"
	CommandSetMass            = "set_mass"
	CommandSetAirResistance   = "set_air_resistance"
	CommandSetWind            = "set_wind"
	CommandShowForceVectors   = "show_force_vectors"
	CommandToggleForceVectors = "toggle_force_vectors"
	CommandLaunch             = "launch"
	CommandReset              = "reset"
	CommandToggleLaunch       = "toggle_launch"
	CommandStartChallenge     = "start_challenge"
	CommandStopChallenge      = "stop_challenge"
	CommandToggleChallenge    = "toggle_challenge"
)

// Command is the wire form of a host control such as a slider move or a key press.
type Command struct {
	Name    string   `json:"command"`
	Value   *float64 `json:"value,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// DecodeCommand parses a JSON command frame.
func DecodeCommand(raw []byte) (Command, error) {
	if len(raw) == 0 {
		return Command{}, fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd.Name = strings.TrimSpace(strings.ToLower(cmd.Name))
	if cmd.Name == "" {
		return Command{}, fmt.Errorf("%w: missing command name", ErrInvalidCommand)
	}
	return cmd, nil
}

// CommandNames lists every command Apply understands, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(valueCommands)+len(actionCommands)+1)
	for name := range valueCommands {
		names = append(names, name)
	}
	for name := range actionCommands {
		names = append(names, name)
	}
	names = append(names, CommandShowForceVectors)
	sort.Strings(names)
	return names
}

var valueCommands = map[string]func(*Lab, float64) error{
	CommandSetAngle:         (*Lab).SetAngle,
	CommandSetVelocity:      (*Lab).SetInitialVelocity,
	CommandSetMass:          (*Lab).SetMass,
	CommandSetAirResistance: (*Lab).SetAirResistance,
	CommandSetWind:          (*Lab).SetWindSpeed,
}

var actionCommands = map[string]func(*Lab) error{
	CommandToggleForceVectors: (*Lab).ToggleForceVectors,
	CommandLaunch:             (*Lab).Launch,
	CommandReset:              (*Lab).Reset,
	CommandToggleLaunch:       (*Lab).ToggleLaunch,
	CommandStartChallenge:     (*Lab).StartChallenge,
	CommandStopChallenge:      (*Lab).StopChallenge,
	CommandToggleChallenge:    (*Lab).ToggleChallenge,
}

// Apply executes cmd and returns the resulting snapshot.
func (l *Lab) Apply(cmd Command) (Snapshot, error) {
	if l == nil {
		return Snapshot{}, ErrClosed
	}
	name := strings.TrimSpace(strings.ToLower(cmd.Name))
	var err error
	switch {
	case name == CommandShowForceVectors:
		if cmd.Enabled == nil {
			return Snapshot{}, fmt.Errorf("%w: %s requires enabled", ErrInvalidCommand, name)
		}
		err = l.SetShowForceVectors(*cmd.Enabled)
	case valueCommands[name] != nil:
		if cmd.Value == nil {
			return Snapshot{}, fmt.Errorf("%w: %s requires value", ErrInvalidCommand, name)
		}
		err = valueCommands[name](l, *cmd.Value)
	case actionCommands[name] != nil:
		err = actionCommands[name](l)
	default:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return l.Snapshot(), nil
}
