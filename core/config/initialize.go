package config

import (
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/afero"
)

// Initialize writes the default configuration into dir, leaving an existing
// configuration untouched.
func Initialize(dir string, logger *log.Logger) error {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0700); err != nil {
		return err
	}

	configFs := afero.NewBasePathFs(osFs, dir)
	switch _, err := configFs.Stat(ConfigurationName); {
	case err == nil:
		logger.Printf("%s already exists, skipping", ConfigurationName)
		return nil
	case !os.IsNotExist(err):
		return err
	}

	logger.Printf("Writing %s", ConfigurationName)
	if err := afero.WriteFile(configFs, ConfigurationName, defaultConfigData, fs.FileMode(0600)); err != nil {
		return fmt.Errorf("writing %s: %w", ConfigurationName, err)
	}
	return nil
}
