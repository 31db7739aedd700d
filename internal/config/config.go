package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sessionlog-ai/sessionlog/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/sessionlog/)
// 2. Project config (.sessionlog/)
// 3. SESSIONLOG_CONFIG file
// 4. SESSIONLOG_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := types.DefaultConfig()

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config (~/.config/sessionlog/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "sessionlog.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "sessionlog.jsonc"), globalPath)
	loadOnce(filepath.Join(globalPath, "sessionlog.yaml"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".sessionlog")
		loadOnce(filepath.Join(directory, "sessionlog.json"), directory)
		loadOnce(filepath.Join(directory, "sessionlog.jsonc"), directory)
		loadOnce(filepath.Join(directory, "sessionlog.yaml"), directory)
		loadOnce(filepath.Join(projectConfigDir, "sessionlog.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "sessionlog.jsonc"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "sessionlog.yaml"), projectConfigDir)
	}

	// 3. SESSIONLOG_CONFIG file override
	if configPath := os.Getenv("SESSIONLOG_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 4. SESSIONLOG_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("SESSIONLOG_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	if config.DatabasePath == "" {
		config.DatabasePath = GetPaths().DatabasePath()
	}

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Apply interpolation before parsing
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	} else {
		// Strip JSONC comments using tidwall/jsonc
		data = jsonc.ToJSON(data)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DatabasePath != "" {
		target.DatabasePath = source.DatabasePath
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.ContextLimit != 0 {
		target.ContextLimit = source.ContextLimit
	}
	if source.CompactionThreshold != 0 {
		target.CompactionThreshold = source.CompactionThreshold
	}

	// Merge providers
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Server != nil {
		target.Server = source.Server
	}
	if source.Log != nil {
		target.Log = source.Log
	}
	if source.Maintenance != nil {
		target.Maintenance = source.Maintenance
	}
	if source.Watcher != nil {
		target.Watcher = source.Watcher
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	// Provider API keys
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"bedrock":   "AWS_ACCESS_KEY_ID",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// Model override
	if model := os.Getenv("SESSIONLOG_MODEL"); model != "" {
		config.Model = model
	}

	// Database path override
	if db := os.Getenv("SESSIONLOG_DB"); db != "" {
		config.DatabasePath = db
	}

	// Log level override
	if level := os.Getenv("SESSIONLOG_LOG_LEVEL"); level != "" {
		if config.Log == nil {
			config.Log = &types.LogConfig{}
		}
		config.Log.Level = level
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers SESSIONLOG_CONFIG_DIR, then ~/.config/sessionlog.
func GetConfigDir() string {
	if dir := os.Getenv("SESSIONLOG_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
