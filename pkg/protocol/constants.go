package protocol

// Directory and file constants used throughout beastbot.
const (
	// HomeDir is the user-level state directory (e.g., ~/.beastbot).
	HomeDir = ".beastbot"

	// TimeLayout is the storage format for timestamps (UTC).
	TimeLayout = "2006-01-02 15:04:05"

	// GameConfigFile holds lord requirements and building/research defaults.
	GameConfigFile = "game.yaml"

	// BonusConfigFile holds the weekly bonus-window schedule.
	BonusConfigFile = "bonus.yaml"

	// SettingsFile holds runtime tuning knobs.
	SettingsFile = "settings.toml"
)
