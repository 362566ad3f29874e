package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultNetwork        = "localnet"
	DefaultPackageID      = "0x5ea1"
	DefaultAPIURL         = "http://127.0.0.1:7433"
	DefaultKeyServerAddr  = "127.0.0.1:7434"
	DefaultDBFileName     = ".sealgate.db"
	DefaultBlobsDirName   = ".sealgate-blobs"
	DefaultLogLevel       = "debug"
	DefaultThreshold      = 2
	DefaultEpochs         = 1
	DefaultMaxUploadBytes = 10 * 1024 * 1024
	DefaultKeyServerCount = 3
	DefaultEpochDuration  = "24h"

	configFileName           = ".sealgate.toml"
	configDirEnvKey          = "SEALGATE_CONFIG_DIR"
	trustProjectConfigEnvKey = "SEALGATE_TRUST_PROJECT_CONFIG"
	apiURLEnvKey             = "SEALGATE_API_URL"
	dbPathEnvKey             = "SEALGATE_DB"
	keyServerAddrEnvKey      = "SEALGATE_KEYSERVER_ADDR"
	addressEnvKey            = "SEALGATE_ADDRESS"
)

// PublishConfig holds the defaults used by the publish flow.
type PublishConfig struct {
	Threshold      int `toml:"threshold"`
	Epochs         int `toml:"epochs"`
	MaxUploadBytes int `toml:"max_upload_bytes"`
}

// BlobsConfig configures the reference blob store served by `srv`.
type BlobsConfig struct {
	Root          string `toml:"root"`
	EpochDuration string `toml:"epoch_duration"`
}

// KeyServersConfig configures the key server committee.
type KeyServersConfig struct {
	Addr  string `toml:"addr"`
	Count int    `toml:"count"`
}

// RefreshConfig configures the policy watcher. An empty interval uses the
// per-kind default.
type RefreshConfig struct {
	Interval string `toml:"interval"`
}

// Config defines runtime configuration for sealgate.
type Config struct {
	Network                  string           `toml:"network"`
	PackageID                string           `toml:"package_id"`
	APIURL                   string           `toml:"api_url"`
	DBPath                   string           `toml:"db_path"`
	Address                  string           `toml:"address"`
	LogLevel                 string           `toml:"log_level"`
	Publish                  PublishConfig    `toml:"publish"`
	Blobs                    BlobsConfig      `toml:"blobs"`
	KeyServers               KeyServersConfig `toml:"keyservers"`
	Refresh                  RefreshConfig    `toml:"refresh"`
	TrustedProjectConfigPath string           `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Network:   DefaultNetwork,
		PackageID: DefaultPackageID,
		APIURL:    DefaultAPIURL,
		LogLevel:  DefaultLogLevel,
		Publish: PublishConfig{
			Threshold:      DefaultThreshold,
			Epochs:         DefaultEpochs,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Blobs: BlobsConfig{EpochDuration: DefaultEpochDuration},
		KeyServers: KeyServersConfig{
			Addr:  DefaultKeyServerAddr,
			Count: DefaultKeyServerCount,
		},
	}
}

// EpochDuration parses blobs.epoch_duration.
func (c *Config) EpochDuration() (time.Duration, error) {
	return parsePositiveDuration("blobs.epoch_duration", c.Blobs.EpochDuration)
}

// RefreshInterval parses refresh.interval; zero means the per-kind default.
func (c *Config) RefreshInterval() (time.Duration, error) {
	if strings.TrimSpace(c.Refresh.Interval) == "" {
		return 0, nil
	}
	return parsePositiveDuration("refresh.interval", c.Refresh.Interval)
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"network",
	"package_id",
	"api_url",
	"db_path",
	"address",
	"log_level",
	"publish.threshold",
	"publish.epochs",
	"publish.max_upload_bytes",
	"blobs.root",
	"blobs.epoch_duration",
	"keyservers.addr",
	"keyservers.count",
	"refresh.interval",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "network":
		return c.Network, nil
	case "package_id":
		return c.PackageID, nil
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "address":
		return c.Address, nil
	case "log_level":
		return c.LogLevel, nil
	case "publish.threshold":
		return strconv.Itoa(c.Publish.Threshold), nil
	case "publish.epochs":
		return strconv.Itoa(c.Publish.Epochs), nil
	case "publish.max_upload_bytes":
		return strconv.Itoa(c.Publish.MaxUploadBytes), nil
	case "blobs.root":
		return c.Blobs.Root, nil
	case "blobs.epoch_duration":
		return c.Blobs.EpochDuration, nil
	case "keyservers.addr":
		return c.KeyServers.Addr, nil
	case "keyservers.count":
		return strconv.Itoa(c.KeyServers.Count), nil
	case "refresh.interval":
		return c.Refresh.Interval, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if apiURL := os.Getenv(apiURLEnvKey); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := os.Getenv(dbPathEnvKey); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if addr := os.Getenv(keyServerAddrEnvKey); addr != "" {
		cfg.KeyServers.Addr = addr
	}
	if address := os.Getenv(addressEnvKey); address != "" {
		cfg.Address = address
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.Blobs.Root == "" && cfg.DBPath != "" {
		cfg.Blobs.Root = filepath.Join(filepath.Dir(cfg.DBPath), DefaultBlobsDirName)
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "publish.threshold", "publish.epochs", "publish.max_upload_bytes", "keyservers.count":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return int64(parsed), nil
	case "blobs.epoch_duration":
		if _, err := parsePositiveDuration(key, value); err != nil {
			return nil, err
		}
		return value, nil
	case "refresh.interval":
		if value == "" {
			return value, nil
		}
		if _, err := parsePositiveDuration(key, value); err != nil {
			return nil, err
		}
		return value, nil
	default:
		return value, nil
	}
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration such as 5s or 24h", key)
	}
	return d, nil
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.Network) == "" {
		c.Network = DefaultNetwork
	}
	if strings.TrimSpace(c.PackageID) == "" {
		c.PackageID = DefaultPackageID
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Publish.Threshold <= 0 {
		c.Publish.Threshold = DefaultThreshold
	}
	if c.Publish.Epochs <= 0 {
		c.Publish.Epochs = DefaultEpochs
	}
	if c.Publish.MaxUploadBytes <= 0 {
		c.Publish.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.KeyServers.Count <= 0 {
		c.KeyServers.Count = DefaultKeyServerCount
	}
	if strings.TrimSpace(c.Blobs.EpochDuration) == "" {
		c.Blobs.EpochDuration = DefaultEpochDuration
	}
}
