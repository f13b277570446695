// internal/model/settings.go
package model

// Settings holds the persisted host preferences
type Settings struct {
	Recent   map[string]*PortOptions `json:"recent"`
	Commands []string                `json:"commands"`
}

// NewSettings returns empty settings
func NewSettings() *Settings {
	return &Settings{
		Recent:   make(map[string]*PortOptions),
		Commands: []string{},
	}
}
