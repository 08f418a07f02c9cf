package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "hdmctl"
	configFile = "config.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/hdmctl or $HOME/.config/hdmctl
//   - macOS: $HOME/.config/hdmctl
//   - Windows: %LOCALAPPDATA%\hdmctl
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads the registry from path, or from the default location when path
// is empty. A missing file yields a new default registry bound to that path.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Registry, error) {
	if path == "" {
		defaultPath, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		registry := NewRegistry()
		registry.path = path
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	registry, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	registry.path = path
	return registry, nil
}

func parse(path string, data []byte) (*Registry, error) {
	var registry Registry

	if isTOML(path) {
		meta, err := toml.Decode(string(data), &registry)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if !meta.IsDefined("version") {
			registry.Version = CurrentVersion
		}
	} else {
		if err := yaml.Unmarshal(data, &registry); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if registry.Version == 0 {
			registry.Version = CurrentVersion
		}
	}

	if registry.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", registry.Version, CurrentVersion)
	}

	// Ensure maps are initialized
	if registry.Devices == nil {
		registry.Devices = make(map[string]*Device)
	}
	if registry.ErrorCodes == nil {
		registry.ErrorCodes = make(map[string]string)
	}
	if registry.Preferences == nil {
		registry.Preferences = defaultPreferences()
	}

	for name, d := range registry.Devices {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		if d.Seq < 1 {
			d.Seq = 1
		}
	}

	return &registry, nil
}

func (r *Registry) marshal() ([]byte, error) {
	header := `# hdmctl configuration file
# Fiscal device connection settings and preferences.
#
# Security Note: device passwords are NEVER stored in this file. Set
# password_env to the name of an environment variable, or enter the
# password when prompted.
#
# Location: ` + r.path + `

`

	if isTOML(r.path) {
		var buf bytes.Buffer
		buf.WriteString(header)
		if err := toml.NewEncoder(&buf).Encode(r); err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(header), data...), nil
}

// Save writes the registry to its path.
// Performs an atomic write to prevent corruption on crash.
func (r *Registry) Save() error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if r.path == "" {
		defaultPath, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		r.path = defaultPath
	}

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	r.mu.Lock()
	data, err := r.marshal()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	// Write to temporary file first (atomic write)
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		// Clean up temp file on error
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// SaveAs changes the registry's path and saves it there
func (r *Registry) SaveAs(path string) error {
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()
	return r.Save()
}
