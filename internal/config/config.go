// internal/config/config.go
package config

import (
	"github.com/nyaruka/ezconf"

	"github.com/cardroom/switchboard/internal/logger"
)

// Config is our top level configuration object
type Config struct {
	Address       string `help:"the network interface address the server will bind to"`
	Port          int    `help:"the port the server will listen on"`
	TokensFile    string `help:"path to the JSON file mapping bearer tokens to usernames"`
	RoomsFile     string `help:"path to the JSON file backing the room catalog"`
	NatsURL       string `help:"the NATS server URL presence events are published to, empty disables publishing"`
	SendQueueSize int    `help:"capacity of each client's outbound message queue"`
	LogLevel      string `help:"the logging level the server should use"`
	LogToFile     bool   `help:"whether logs are also written to a rotated file"`
	LogToJSON     bool   `help:"whether stdout logs are emitted as JSON instead of the console format"`
	LogFilePath   string `help:"path of the rotated log file"`
	Version       string `help:"the version reported by the status endpoints"`
}

// NewConfig returns a new default configuration object
func NewConfig() *Config {
	return &Config{
		Address:       "",
		Port:          8080,
		TokensFile:    "tokens.json",
		RoomsFile:     "rooms.json",
		NatsURL:       "",
		SendQueueSize: 256,
		LogLevel:      "info",
		LogToFile:     false,
		LogToJSON:     false,
		LogFilePath:   "switchboard.log",
		Version:       "Dev",
	}
}

// LoadConfig loads our configuration from the passed in filename
func LoadConfig(filename string) *Config {
	config := NewConfig()
	loader := ezconf.NewLoader(
		config,
		"switchboard", "Switchboard - a realtime presence and message routing hub",
		[]string{filename},
	)

	loader.MustLoad()
	return config
}

// LoggerConfig maps the loaded settings onto the logger's own config struct
func (c *Config) LoggerConfig() logger.LogConfig {
	lc := logger.DefaultLogConfig()
	lc.Level = c.LogLevel
	lc.LogToFile = c.LogToFile
	lc.LogToJSON = c.LogToJSON
	lc.FilePath = c.LogFilePath
	return lc
}
