package models

import "time"

// Backup describes one archive of a server's install directory.
type Backup struct {
	ID          string    `json:"id"`
	Server      string    `json:"server"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"` // bytes
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"created_at"`
}
