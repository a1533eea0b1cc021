package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/executor/pkg/types"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// providerEnv maps provider IDs to the environment variable carrying their key.
var providerEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/executor/)
// 2. Project config (executor.json[c], .executor/)
// 3. EXECUTOR_CONFIG file
// 4. EXECUTOR_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped; a file that exists but does not parse is an error.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config, baseDir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates [][2]string

	globalPath := GetPaths().Config
	candidates = append(candidates,
		[2]string{filepath.Join(globalPath, "executor.json"), globalPath},
		[2]string{filepath.Join(globalPath, "executor.jsonc"), globalPath},
	)

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".executor")
		candidates = append(candidates,
			[2]string{filepath.Join(directory, "executor.json"), directory},
			[2]string{filepath.Join(directory, "executor.jsonc"), directory},
			[2]string{filepath.Join(projectConfigDir, "executor.json"), projectConfigDir},
			[2]string{filepath.Join(projectConfigDir, "executor.jsonc"), projectConfigDir},
		)
	}

	if configPath := os.Getenv("EXECUTOR_CONFIG"); configPath != "" {
		candidates = append(candidates, [2]string{configPath, filepath.Dir(configPath)})
	}

	for _, c := range candidates {
		if err := loadOnce(c[0], c[1]); err != nil {
			return nil, err
		}
	}

	if configContent := os.Getenv("EXECUTOR_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		data := interpolate(jsonc.ToJSON([]byte(configContent)), directory)
		if err := json.Unmarshal(data, &inlineConfig); err != nil {
			return nil, fmt.Errorf("parse EXECUTOR_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inlineConfig)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	normalizeProviderConfig(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(escaped[1 : len(escaped)-1])
	})

	return []byte(str)
}

// normalizeProviderConfig merges Options fields into direct fields.
func normalizeProviderConfig(config *types.Config) {
	for name, provider := range config.Provider {
		if provider.Options != nil {
			if provider.Options.APIKey != "" {
				provider.APIKey = provider.Options.APIKey
			}
			if provider.Options.BaseURL != "" {
				provider.BaseURL = provider.Options.BaseURL
			}
		}
		config.Provider[name] = provider
	}
}

// mergeConfig merges source config into target. Scalars in source win when
// set; maps are merged key by key.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}

	mergeServer(&target.Server, &source.Server)

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Command != nil {
		if target.Command == nil {
			target.Command = make(map[string]types.CommandConfig)
		}
		for k, v := range source.Command {
			target.Command[k] = v
		}
	}

	if source.HTTP.Timeout != 0 {
		target.HTTP.Timeout = source.HTTP.Timeout
	}
	if source.HTTP.UserAgent != "" {
		target.HTTP.UserAgent = source.HTTP.UserAgent
	}
	if source.HTTP.MaxIdleConns != 0 {
		target.HTTP.MaxIdleConns = source.HTTP.MaxIdleConns
	}

	if source.Shell.Dir != "" {
		target.Shell.Dir = source.Shell.Dir
	}
	if source.Shell.Timeout != 0 {
		target.Shell.Timeout = source.Shell.Timeout
	}
	if source.Shell.Env != nil {
		if target.Shell.Env == nil {
			target.Shell.Env = make(map[string]string)
		}
		for k, v := range source.Shell.Env {
			target.Shell.Env[k] = v
		}
	}
	if source.Shell.Policy != nil {
		if target.Shell.Policy == nil {
			target.Shell.Policy = make(map[string]string)
		}
		for k, v := range source.Shell.Policy {
			target.Shell.Policy[k] = v
		}
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
}

func mergeServer(target, source *types.ServerConfig) {
	if source.Host != "" {
		target.Host = source.Host
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if len(source.AllowedOrigins) > 0 {
		target.AllowedOrigins = source.AllowedOrigins
	}
	if source.ReadBufferSize != 0 {
		target.ReadBufferSize = source.ReadBufferSize
	}
	if source.WriteBufferSize != 0 {
		target.WriteBufferSize = source.WriteBufferSize
	}
	if source.MaxMessageSize != 0 {
		target.MaxMessageSize = source.MaxMessageSize
	}
	if source.HandshakeTimeout != 0 {
		target.HandshakeTimeout = source.HandshakeTimeout
	}
	if source.WriteTimeout != 0 {
		target.WriteTimeout = source.WriteTimeout
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) error {
	for provider, envVar := range providerEnv {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			p := config.Provider[provider]
			if p.APIKey == "" && (p.Options == nil || p.Options.APIKey == "") {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	// ARK needs an endpoint ID as well as a key.
	if modelID := os.Getenv("ARK_MODEL_ID"); modelID != "" {
		if p, ok := config.Provider["ark"]; ok && p.Model == "" {
			p.Model = modelID
			config.Provider["ark"] = p
		}
	}
	if baseURL := os.Getenv("ARK_BASE_URL"); baseURL != "" {
		if p, ok := config.Provider["ark"]; ok && p.BaseURL == "" {
			p.BaseURL = baseURL
			config.Provider["ark"] = p
		}
	}

	if model := os.Getenv("EXECUTOR_MODEL"); model != "" {
		config.Model = model
	}
	if host := os.Getenv("EXECUTOR_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("EXECUTOR_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid EXECUTOR_PORT %q", port)
		}
		config.Server.Port = n
	}
	if level := os.Getenv("EXECUTOR_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	return nil
}
