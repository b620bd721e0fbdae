package model

// SettingKey is a key of the settings store
type SettingKey string

const (
	SettingGoogleAPIKey        SettingKey = "googleApiKey"
	SettingOpenAIAPIKey        SettingKey = "openaiApiKey"
	SettingDistanceThreshold   SettingKey = "distanceThreshold"
	SettingConfidenceThreshold SettingKey = "confidenceThreshold"
)

// Settings lists known keys for the setting command
var Settings = []SettingKey{
	SettingGoogleAPIKey,
	SettingOpenAIAPIKey,
	SettingDistanceThreshold,
	SettingConfidenceThreshold,
}

// Valid reports whether the key is one of known settings
func (k SettingKey) Valid() bool {
	for _, s := range Settings {
		if s == k {
			return true
		}
	}
	return false
}
