// Package config provides configuration loading, merging, and path management
// for the executor gateway.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order, later sources overriding earlier ones:
//
//  1. Global config (~/.config/executor/executor.json[c])
//  2. Project config (executor.json[c] and .executor/executor.json[c])
//  3. EXECUTOR_CONFIG file
//  4. EXECUTOR_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Missing files are skipped. A file that exists but fails to parse aborts
// the load, so a typo never silently falls back to defaults.
//
// # Supported Formats
//
// JSON and JSONC (JSON with Comments, processed using tidwall/jsonc).
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable value
//   - {file:path} expands to file contents, escaped for a JSON string
//
// Relative {file:} paths resolve against the directory of the config file;
// ~/ expands to HOME.
//
//	{
//	  "model": "anthropic/claude-sonnet-4-20250514",
//	  "server": {"host": "127.0.0.1", "port": 8080},
//	  "provider": {
//	    "anthropic": {"options": {"apiKey": "{env:ANTHROPIC_API_KEY}"}}
//	  },
//	  "command": {
//	    "review": {"template": "{file:prompts/review.md}"}
//	  }
//	}
//
// # Environment Variable Overrides
//
//   - EXECUTOR_MODEL, EXECUTOR_HOST, EXECUTOR_PORT, EXECUTOR_LOG_LEVEL
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, ARK_API_KEY fill provider keys that
//     no file set
//   - ARK_MODEL_ID, ARK_BASE_URL complete an ARK provider entry
//
// # Path Management
//
// Paths follows the XDG Base Directory layout (XDG_CONFIG_HOME,
// XDG_STATE_HOME), using APPDATA on Windows.
package config
