// internal/model/command.go
package model

import "encoding/json"

// CommandName identifies a host command
type CommandName string

const (
	CommandOpen     CommandName = "open"
	CommandClose    CommandName = "close"
	CommandList     CommandName = "list"
	CommandSend     CommandName = "send"
	CommandSpyStart CommandName = "spyStart"
	CommandSpyStop  CommandName = "spyStop"
	CommandWrite    CommandName = "write"
	CommandRead     CommandName = "read"
	CommandRemove   CommandName = "remove"
)

// Command is an inbound host request addressed to one session
type Command struct {
	Command   CommandName     `json:"command"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsSettings reports whether the command touches the settings store
func (c *Command) IsSettings() bool {
	switch c.Command {
	case CommandWrite, CommandRead, CommandRemove:
		return true
	}
	return false
}

// OpenData is the payload of the open command
type OpenData struct {
	Options *PortOptions `json:"options"`
}

// CloseData is the payload of the close command
type CloseData struct {
	Path string `json:"path"`
}

// SendData is the payload of the send command
type SendData struct {
	Path string `json:"path"`
	Cmd  string `json:"cmd"`
}

// SpyData is the payload of the spyStart and spyStop commands
type SpyData struct {
	Options []*PortOptions `json:"options"`
}

// SettingsType selects which part of the settings a write/remove touches
type SettingsType string

const (
	SettingsCommand SettingsType = "command"
	SettingsOptions SettingsType = "options"
)

// SettingsData is the payload of the write and remove commands
type SettingsData struct {
	Type SettingsType    `json:"type"`
	Data json.RawMessage `json:"data"`
	Port string          `json:"port,omitempty"`
}

// CommandStatus is the generic success payload
type CommandStatus struct {
	Status string      `json:"status"`
	Ports  []*PortInfo `json:"ports,omitempty"`
}
