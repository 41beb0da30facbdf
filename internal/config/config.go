// Package config loads credentials and runtime settings from a .env file
// and the process environment. Environment variables win over the file, so
// deployments can override without editing anything on disk.
package config

import (
	"github.com/spf13/viper"
)

// Config carries credentials and settings shared by the bot binaries.
type Config struct {
	// APIKey and APISecret authenticate with the exchange.
	APIKey    string
	APISecret string

	// SlackToken authenticates notification delivery. Empty disables
	// notifications.
	SlackToken string

	// Testnet points the exchange client at the spot testnet.
	Testnet bool

	// DataDir is where candle snapshots, charts and reports are written.
	DataDir string

	// LogLevel is the zerolog level name (trace..panic).
	LogLevel string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	_ = v.ReadInConfig() // optional file
	v.AutomaticEnv()

	v.SetDefault("TESTNET", false)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("LOG_LEVEL", "info")

	return Config{
		APIKey:     v.GetString("BINANCE_API_KEY"),
		APISecret:  v.GetString("BINANCE_API_SECRET"),
		SlackToken: v.GetString("SLACK_TOKEN"),
		Testnet:    v.GetBool("TESTNET"),
		DataDir:    v.GetString("DATA_DIR"),
		LogLevel:   v.GetString("LOG_LEVEL"),
	}
}
