// Package config holds the process-wide configuration, backed by a viper
// singleton. Values come from defaults, an optional mediator.yaml and
// MEDIATOR_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the base name searched for on Initialize.
const ConfigFileName = "mediator.yaml"

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "MEDIATOR"

// Config keys
const (
	KeyStorageBackend = "storage.backend"
	KeyStoragePath    = "storage.path"
	KeyStorageDSN     = "storage.dsn"

	KeyConsultProvider   = "consult.provider"
	KeyConsultModel      = "consult.model"
	KeyConsultAPIKey     = "consult.api-key"
	KeyConsultMaxTokens  = "consult.max-tokens"
	KeyConsultMaxRetries = "consult.max-retries"
	KeyConsultDryRun     = "consult.dry-run"

	KeyChatMinGroupMembers = "chat.min-group-members"
	KeyChatMaxTitleLength  = "chat.max-title-length"
	KeyChatBotUsername     = "chat.bot-username"
	KeyChatStateFile       = "chat.state-file"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
)

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize sets up the viper singleton. explicitPath, when set, must point
// at a readable config file; otherwise the file is optional and searched for
// in $MEDIATOR_CONFIG, the working directory and the user config directory.
func Initialize(explicitPath string) error {
	mu.Lock()
	defer mu.Unlock()

	v = viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	registerDefaults(v)

	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "mediator"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault(KeyStorageBackend, "file")
	v.SetDefault(KeyStoragePath, "mediations")
	v.SetDefault(KeyStorageDSN, "")

	v.SetDefault(KeyConsultProvider, "anthropic")
	v.SetDefault(KeyConsultModel, "")
	v.SetDefault(KeyConsultAPIKey, "")
	v.SetDefault(KeyConsultMaxTokens, 1024)
	v.SetDefault(KeyConsultMaxRetries, 0)
	v.SetDefault(KeyConsultDryRun, false)

	v.SetDefault(KeyChatMinGroupMembers, 3)
	v.SetDefault(KeyChatMaxTitleLength, 255)
	v.SetDefault(KeyChatBotUsername, "AIMediatorBot")
	v.SetDefault(KeyChatStateFile, "mediator-sessions.json")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// ResetForTesting drops the singleton and re-initializes it from defaults
// and the environment only.
func ResetForTesting() {
	mu.Lock()
	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	registerDefaults(v)
	mu.Unlock()
}

func instance() *viper.Viper {
	mu.RLock()
	cur := v
	mu.RUnlock()
	if cur != nil {
		return cur
	}
	ResetForTesting()
	mu.RLock()
	defer mu.RUnlock()
	return v
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	return instance().ConfigFileUsed()
}

// Set overrides key for the rest of the process. Used for flag bindings.
func Set(key string, value any) {
	instance().Set(key, value)
}

func GetString(key string) string          { return instance().GetString(key) }
func GetBool(key string) bool              { return instance().GetBool(key) }
func GetInt(key string) int                { return instance().GetInt(key) }
func GetInt64(key string) int64            { return instance().GetInt64(key) }
func GetDuration(key string) time.Duration { return instance().GetDuration(key) }
func GetStringSlice(key string) []string   { return instance().GetStringSlice(key) }

// AllSettings returns the merged configuration.
func AllSettings() map[string]any {
	return instance().AllSettings()
}
