// Package config provides configuration management for the Relay dispatcher.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.relay/config.yaml and is automatically
// created with sensible defaults on first use. The file structure mirrors
// the Go structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the RELAY_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - RELAY_LLM_OPENROUTER_API_KEY=sk-or-...
//   - RELAY_LLM_LOCAL_BASE_URL=http://127.0.0.1:11434/v1
//   - RELAY_SMART_AUTO_ENABLED=false
//   - RELAY_LOGGING_LEVEL=debug
//
// The bare OPENROUTER_API_KEY variable is also honored as a fallback for
// the cloud provider credential, so existing shell setups keep working.
//
// # Usage Example
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/normanking/relay/internal/config"
//	)
//
//	func main() {
//	    cfg, err := config.Load()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    if err := cfg.EnsureDirectories(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    if err := cfg.Validate(); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Printf("Local provider at %s", cfg.LLM.Local.BaseURL)
//	}
//
// # Security Best Practices
//
// API keys should be stored in environment variables rather than in the
// config file to prevent accidental exposure:
//
//	export OPENROUTER_API_KEY=sk-or-...
//
// # Configuration Sections
//
//   - LLM: the local and OpenRouter provider settings (endpoints, model tables, timeouts)
//   - SmartAuto: category-based automatic model selection
//   - Defaults: sampling parameters applied when a request leaves them unset
//   - Knowledge: question/answer store location and serving threshold
//   - Gateway: HTTP/WebSocket serving surface address and auth
//   - Logging: log level and output file configuration
//
// # Path Expansion
//
// The package automatically expands ~ to the user's home directory in
// all path configurations, making config files portable across systems.
//
// # Validation
//
// The Validate() method checks configuration for common errors:
//   - At least one provider enabled
//   - Model table consistency (default and english-only entries resolve)
//   - Valid enum values (log level)
//   - Numeric range validation (rating threshold, port)
//
// # Thread Safety
//
// Config instances are not thread-safe. The dispatcher takes a snapshot at
// construction; reload by constructing a new dispatcher.
package config
