package model

import "time"

// PreferencesID is the reserved identifier of the preferences singleton.
const PreferencesID = "app-preferences"

// PreferencesSchemaVersion is stamped on the default document.
const PreferencesSchemaVersion = 1

// Preferences is the single well-known settings document. Exactly one row
// exists per installation; reading it when absent creates the default.
type Preferences struct {
	ID          string `gorm:"primaryKey;size:32" json:"id"`
	Theme       string `gorm:"size:32" json:"theme"`
	ColorScheme string `gorm:"size:32" json:"color_scheme"`
	FontSize    string `gorm:"size:16" json:"font_size"`
	Animations  bool   `json:"animations"`
	Sound       bool   `json:"sound"`
	AutoSave    bool   `json:"auto_save"`

	// Cloud sync (replication client) settings.
	SyncEnabled  bool   `json:"sync_enabled"`
	SyncEndpoint string `gorm:"size:256" json:"sync_endpoint"`
	SyncUsername string `gorm:"size:64" json:"sync_username"`
	SyncPassword string `gorm:"size:128" json:"-"`

	// AI feature sub-configuration; stored only, no AI feature is wired here.
	AIEnabled  bool   `json:"ai_enabled"`
	AIMode     string `gorm:"size:32" json:"ai_mode"`
	AIProvider string `gorm:"size:64" json:"ai_provider,omitempty"`
	AIKey      string `gorm:"size:128" json:"-"`
	AIModel    string `gorm:"size:64" json:"ai_model,omitempty"`

	OnboardingDone bool      `json:"onboarding_done"`
	SchemaVersion  int       `json:"schema_version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Preferences) TableName() string { return "preferences" }

// DefaultPreferences returns the documented default singleton.
func DefaultPreferences() *Preferences {
	return &Preferences{
		ID:            PreferencesID,
		Theme:         "parchment",
		ColorScheme:   "system",
		FontSize:      "medium",
		Animations:    true,
		Sound:         true,
		AutoSave:      true,
		AIMode:        "off",
		SchemaVersion: PreferencesSchemaVersion,
	}
}
