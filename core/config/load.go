package config

import (
	"path/filepath"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// Load loads the configuration from the directory.
func Load(path string) (*Configuration, error) {
	// If given the path to a config.yaml file, move back up a level.
	if filepath.Base(path) == ConfigurationName {
		path = filepath.Dir(path)
	}

	configFs := afero.NewBasePathFs(afero.NewOsFs(), path)
	configContents, err := afero.ReadFile(configFs, ConfigurationName)
	if err != nil {
		return nil, err
	}

	out := defaultConfig()
	if err := yaml.UnmarshalStrict(configContents, out); err != nil {
		return nil, err
	}
	out.configFs = configFs

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
