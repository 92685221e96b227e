package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of mediator.yaml read directly from disk,
// bypassing the viper singleton. Tools use it before Initialize runs or to
// inspect a config file other than the one loaded.
type LocalConfig struct {
	Storage StorageSettings `yaml:"storage"`
	Consult ConsultSettings `yaml:"consult"`
	Chat    ChatSettings    `yaml:"chat"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadLocalConfig reads mediator.yaml from dir.
// Returns an empty LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(dir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName)) // #nosec G304 - path from caller-chosen dir
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}
