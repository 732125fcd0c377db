package message

import "time"

// DeployEvent is published after a deployment has been committed and pushed.
type DeployEvent struct {
	Tag         string    `json:"tag"`
	Revision    string    `json:"revision"`
	Branch      string    `json:"branch"`
	Destination string    `json:"destination"`
	Minified    bool      `json:"minified"`
	SyncOK      bool      `json:"sync_ok"`
	At          time.Time `json:"at"`
}
