package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Manager wraps viper with a fixed config file location and serialized writes.
type Manager struct {
	// Path is the directory holding the config file and sidecar files.
	Path string

	viper *viper.Viper
	mu    sync.Mutex
}

// DefaultPath 返回配置目录,优先环境变量,其次用户 home。
func DefaultPath(appName string) string {
	if dir := os.Getenv(strings.ToUpper(appName) + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "."+appName)
}

// New creates a Manager for the given config file. configPath may be a file
// path or empty; when empty the default location {DefaultPath(appName)}/config.json
// is used. The file is created on first write, not here.
func New(appName, configPath string) (*Manager, error) {
	v := viper.New()

	var dir, file string
	if configPath != "" {
		dir = filepath.Dir(configPath)
		file = configPath
	} else {
		dir = DefaultPath(appName)
		file = filepath.Join(dir, "config.json")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	v.SetConfigFile(file)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", file).Msg("config file not found, starting empty")
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debug().Str("path", file).Msg("config file not found, starting empty")
		} else {
			return nil, err
		}
	}

	return &Manager{Path: dir, viper: v}, nil
}

// GetConfig returns the raw value for key, or nil when unset.
func (m *Manager) GetConfig(key string) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viper.Get(key)
}

// GetString returns the string value for key.
func (m *Manager) GetString(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viper.GetString(key)
}

// SetConfig sets key and persists the whole config file.
func (m *Manager) SetConfig(key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viper.Set(key, value)
	return m.viper.WriteConfigAs(m.viper.ConfigFileUsed())
}

// Unmarshal decodes the full config into out via mapstructure tags.
func (m *Manager) Unmarshal(out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viper.Unmarshal(out)
}
