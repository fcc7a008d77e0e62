package models

// AppInfo is a catalog entry for an installable title.
type AppInfo struct {
	AppID       int    `json:"app_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Launch is the default start command, relative to the install path.
	Launch string `json:"launch,omitempty"`
	// Anonymous is false when the app needs a Steam account that owns it.
	Anonymous bool `json:"anonymous"`
}
