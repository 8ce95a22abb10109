package config

import (
	_ "embed"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
)

type Configuration struct {
	configFs afero.Fs

	Prompt      string `json:"prompt" validate:"required"`
	Color       bool   `json:"color"`
	HistoryFile string `json:"history_file"`
	AppLog      string `json:"app_log"`
	EventLog    string `json:"event_log"`

	CreateMode     string `json:"create_mode" validate:"required,filemode"`
	TermSignal     string `json:"term_signal" validate:"required"`
	PassthroughFDs []int  `json:"passthrough_fds" validate:"dive,gte=3"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})
	if err := validate.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		_, err := parseFileMode(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}

	return validate.Struct(c)
}

func parseFileMode(mode string) (os.FileMode, error) {
	perm, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, err
	}
	if perm > 0777 {
		return 0, strconv.ErrRange
	}
	return os.FileMode(perm), nil
}

func (c *Configuration) fs() afero.Fs {
	if c.configFs == nil {
		c.configFs = afero.NewMemMapFs()
	}
	return c.configFs
}

// FileMode returns the permissions for files created by redirections.
func (c *Configuration) FileMode() os.FileMode {
	mode, err := parseFileMode(c.CreateMode)
	if err != nil {
		return 0644
	}
	return mode
}

// OpenAppLog opens the application log in an append only state.
func (c *Configuration) OpenAppLog() (afero.File, error) {
	return c.openAppendOnly(c.AppLog)
}

// OpenEventLog opens the event log in an append only state.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	return c.openAppendOnly(c.EventLog)
}

func (c *Configuration) openAppendOnly(name string) (afero.File, error) {
	if name == "" {
		return nil, os.ErrNotExist
	}
	return c.fs().OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	if c.EventLog == "" {
		return nil, os.ErrNotExist
	}
	return c.fs().OpenFile(c.EventLog, os.O_RDONLY, 0600)
}

// HistoryPath is the history file's path on the host filesystem, empty when
// history is disabled or the configuration isn't backed by a directory.
func (c *Configuration) HistoryPath() string {
	if c.HistoryFile == "" {
		return ""
	}
	base, ok := c.fs().(*afero.BasePathFs)
	if !ok {
		return ""
	}
	path, err := base.RealPath(c.HistoryFile)
	if err != nil {
		return ""
	}
	return path
}

// Default returns the built in configuration, files it references are kept in
// memory.
func Default() *Configuration {
	return defaultConfig()
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	out.configFs = afero.NewMemMapFs()
	return &out
}
