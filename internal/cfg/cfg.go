package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"segmentation-console/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved console configuration.
type Settings struct {
	APIBaseURL  string
	DataPath    string
	RESTTimeout time.Duration
	ListenAddr  string
	LogLevel    string
}

// ConfigFile mirrors the YAML config layout.
type ConfigFile struct {
	API struct {
		BaseURL string `yaml:"baseURL"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`

	Storage struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Server struct {
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Missing files are ignored; variables that
// are already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the file named by CONFIG_FILE when set, otherwise the
// environment. The API base URL is required.
func Load() (Settings, error) {
	return load(true)
}

// LoadLocal is Load for commands that only touch local history; the API
// base URL may be absent and is not validated.
func LoadLocal() (Settings, error) {
	return load(false)
}

func load(remote bool) (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFile(configPath, remote)
	}
	return loadFromEnv(remote)
}

// LoadFile reads a YAML config; environment variables override file values.
func LoadFile(path string) (Settings, error) {
	return loadFile(path, true)
}

// LoadFileLocal is LoadFile without the API base URL requirement.
func LoadFileLocal(path string) (Settings, error) {
	return loadFile(path, false)
}

func loadFile(path string, remote bool) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	restTimeout, err := time.ParseDuration(config.API.Timeout)
	if err != nil {
		restTimeout = common.DefaultRESTTimeoutSec * time.Second
	}

	settings := Settings{
		APIBaseURL:  getEnvOrDefault(common.EnvAPIBaseURL, config.API.BaseURL),
		DataPath:    getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		RESTTimeout: getDurationOrDefault(common.EnvRESTTimeout, restTimeout),
		ListenAddr:  getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		LogLevel:    getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
	}

	if err := validateSettings(&settings, remote); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv(remote bool) (Settings, error) {
	base := os.Getenv(common.EnvAPIBaseURL)
	if remote {
		var err error
		if base, err = getEnvRequired(common.EnvAPIBaseURL); err != nil {
			return Settings{}, err
		}
	}

	settings := Settings{
		APIBaseURL:  base,
		DataPath:    getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		RESTTimeout: getDurationOrDefault(common.EnvRESTTimeout, common.DefaultRESTTimeoutSec*time.Second),
		ListenAddr:  getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		LogLevel:    getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
	}

	if err := validateSettings(&settings, remote); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// Validate re-checks settings after command line overrides, including the
// API base URL.
func (s *Settings) Validate() error {
	return validateSettings(s, true)
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// validateSettings checks every field; the API base URL only when remote.
func validateSettings(settings *Settings, remote bool) error {
	if remote {
		if settings.APIBaseURL == "" {
			return errors.New(common.ErrMsgBaseURLRequired)
		}
		u, err := url.Parse(settings.APIBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("API base URL must be an absolute http(s) URL, got %q", settings.APIBaseURL)
		}
	}

	if settings.DataPath == "" {
		return errors.New(common.ErrMsgDataPathRequired)
	}

	minTimeout := common.MinRESTTimeoutSec * time.Second
	maxTimeout := common.MaxRESTTimeoutSec * time.Second
	if settings.RESTTimeout < minTimeout || settings.RESTTimeout > maxTimeout {
		return fmt.Errorf("REST timeout must be between %v and %v, got %v", minTimeout, maxTimeout, settings.RESTTimeout)
	}

	if settings.ListenAddr == "" {
		return errors.New("listen address cannot be empty")
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
