package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MAZEMIND_"
)

// nestedSections lists sections whose env keys carry a second level, e.g.
// MAZEMIND_PROVIDERS_OPENAI_API_KEY -> providers.openai.api_key.
var nestedSections = map[string][]string{
	"providers": {ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderTEI},
	"retrieval": {"weights"},
}

// LoadWithFile loads configuration from a YAML file, then applies
// environment overrides, defaults and validation.
//
// Precedence (highest first):
//  1. Environment variables (MAZEMIND_REFLECTION_THRESHOLD, ...)
//  2. YAML config file (~/.config/mazemind/config.yaml by default)
//  3. Defaults
//
// The file must live under ~/.config/mazemind/ or /etc/mazemind/, be at most
// 1MB and have 0600 or 0400 permissions since it holds provider credentials.
// A missing file is not an error.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps MAZEMIND_SECTION_FIELD_NAME to section.field_name, splitting a
// second level for nested sections.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, rest := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(rest, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(rest, sub+"_")
		}
	}
	return section + "." + rest
}

// readConfigFile opens the file once and validates through the open
// descriptor so the checked file is the one that is read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// DefaultConfigDir returns ~/.config/mazemind.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mazemind"), nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/mazemind"} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/mazemind/ or /etc/mazemind/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
