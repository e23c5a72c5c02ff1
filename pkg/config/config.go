package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".goinspect"
	configFile string = "config.yml"
)

const (
	// DefaultCacheSize is the number of extraction results kept when
	// cache-size is not set.
	DefaultCacheSize = 128
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// MaxScanBytes bounds how many bytes of each section the fallback
	// magic-number scan examines when an executable carries no named
	// runtime sections. Zero or unset means no bound.
	MaxScanBytes *uint64 `yaml:"max-scan-bytes,omitempty"`

	// CacheSize is the number of extraction results memoized per run,
	// keyed by content hash. Zero disables the cache.
	CacheSize *int `yaml:"cache-size,omitempty"`
}

// MaxScanBytesOrDefault returns the configured scan bound, or zero.
func (c *Config) MaxScanBytesOrDefault() uint64 {
	if c == nil || c.MaxScanBytes == nil {
		return 0
	}
	return *c.MaxScanBytes
}

// CacheSizeOrDefault returns the configured cache size, or DefaultCacheSize.
func (c *Config) CacheSizeOrDefault() int {
	if c == nil || c.CacheSize == nil {
		return DefaultCacheSize
	}
	return *c.CacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for goinspect.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Bound, in bytes, on how much of each section the magic-number scan reads
# when an executable has no named Go runtime sections. Unset means no bound.
# max-scan-bytes: 67108864

# Number of extraction results memoized per run, keyed by content hash.
# Set to 0 to disable the cache.
# cache-size: 128
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
