package query

import (
	"errors"
	"time"

	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Preferences manages the settings singleton. Reading it when absent creates
// and persists the documented default instead of erroring.
type Preferences struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewPreferences creates the preferences query service.
func NewPreferences(st *store.Store, logger *zap.Logger) *Preferences {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preferences{store: st, logger: logger, now: time.Now}
}

// Get returns the singleton, creating the default on first access.
func (q *Preferences) Get() (*model.Preferences, error) {
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}
	var prefs model.Preferences
	err = db.First(&prefs, "id = ?", model.PreferencesID).Error
	if err == nil {
		return &prefs, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	def := model.DefaultPreferences()
	def.UpdatedAt = q.now()
	if err := db.Create(def).Error; err != nil {
		return nil, err
	}
	q.logger.Info("preferences singleton created with defaults")
	return def, nil
}

// PreferencesPatch carries a partial update; nil fields are left unchanged.
type PreferencesPatch struct {
	Theme          *string `json:"theme,omitempty"`
	ColorScheme    *string `json:"color_scheme,omitempty"`
	FontSize       *string `json:"font_size,omitempty"`
	Animations     *bool   `json:"animations,omitempty"`
	Sound          *bool   `json:"sound,omitempty"`
	AutoSave       *bool   `json:"auto_save,omitempty"`
	SyncEnabled    *bool   `json:"sync_enabled,omitempty"`
	SyncEndpoint   *string `json:"sync_endpoint,omitempty"`
	SyncUsername   *string `json:"sync_username,omitempty"`
	SyncPassword   *string `json:"sync_password,omitempty"`
	AIEnabled      *bool   `json:"ai_enabled,omitempty"`
	AIMode         *string `json:"ai_mode,omitempty"`
	AIProvider     *string `json:"ai_provider,omitempty"`
	AIKey          *string `json:"ai_key,omitempty"`
	AIModel        *string `json:"ai_model,omitempty"`
	OnboardingDone *bool   `json:"onboarding_done,omitempty"`
}

// Update merges the patch into the singleton, persists, and returns the full
// document.
func (q *Preferences) Update(patch PreferencesPatch) (*model.Preferences, error) {
	prefs, err := q.Get()
	if err != nil {
		return nil, err
	}
	db, err := q.store.DB()
	if err != nil {
		return nil, err
	}

	applyString(&prefs.Theme, patch.Theme)
	applyString(&prefs.ColorScheme, patch.ColorScheme)
	applyString(&prefs.FontSize, patch.FontSize)
	applyBool(&prefs.Animations, patch.Animations)
	applyBool(&prefs.Sound, patch.Sound)
	applyBool(&prefs.AutoSave, patch.AutoSave)
	applyBool(&prefs.SyncEnabled, patch.SyncEnabled)
	applyString(&prefs.SyncEndpoint, patch.SyncEndpoint)
	applyString(&prefs.SyncUsername, patch.SyncUsername)
	applyString(&prefs.SyncPassword, patch.SyncPassword)
	applyBool(&prefs.AIEnabled, patch.AIEnabled)
	applyString(&prefs.AIMode, patch.AIMode)
	applyString(&prefs.AIProvider, patch.AIProvider)
	applyString(&prefs.AIKey, patch.AIKey)
	applyString(&prefs.AIModel, patch.AIModel)
	applyBool(&prefs.OnboardingDone, patch.OnboardingDone)
	prefs.UpdatedAt = q.now()

	if err := db.Save(prefs).Error; err != nil {
		return nil, err
	}
	return prefs, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
