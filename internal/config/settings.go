package config

// StorageSettings selects the mediation store.
type StorageSettings struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ConsultSettings configures the consultation provider.
type ConsultSettings struct {
	Provider   string `json:"provider" yaml:"provider"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey     string `json:"-" yaml:"api-key,omitempty"`
	MaxTokens  int64  `json:"max_tokens" yaml:"max-tokens"`
	MaxRetries int    `json:"max_retries" yaml:"max-retries"`
	DryRun     bool   `json:"dry_run" yaml:"dry-run"`
}

// ChatSettings configures the chat front end.
type ChatSettings struct {
	MinGroupMembers int    `json:"min_group_members" yaml:"min-group-members"`
	MaxTitleLength  int    `json:"max_title_length" yaml:"max-title-length"`
	BotUsername     string `json:"bot_username" yaml:"bot-username"`
	StateFile       string `json:"state_file" yaml:"state-file"`
}

// GetStorageSettings returns the storage configuration.
func GetStorageSettings() StorageSettings {
	return StorageSettings{
		Backend: GetString(KeyStorageBackend),
		Path:    GetString(KeyStoragePath),
		DSN:     GetString(KeyStorageDSN),
	}
}

// GetConsultSettings returns the consultation configuration.
func GetConsultSettings() ConsultSettings {
	return ConsultSettings{
		Provider:   GetString(KeyConsultProvider),
		Model:      GetString(KeyConsultModel),
		APIKey:     GetString(KeyConsultAPIKey),
		MaxTokens:  GetInt64(KeyConsultMaxTokens),
		MaxRetries: GetInt(KeyConsultMaxRetries),
		DryRun:     GetBool(KeyConsultDryRun),
	}
}

// GetChatSettings returns the chat configuration.
func GetChatSettings() ChatSettings {
	return ChatSettings{
		MinGroupMembers: GetInt(KeyChatMinGroupMembers),
		MaxTitleLength:  GetInt(KeyChatMaxTitleLength),
		BotUsername:     GetString(KeyChatBotUsername),
		StateFile:       GetString(KeyChatStateFile),
	}
}
