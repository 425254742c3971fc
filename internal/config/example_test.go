package config_test

import (
	"fmt"
	"log"

	"github.com/normanking/relay/internal/config"
)

// ExampleLoad demonstrates how to load configuration from the default location.
func ExampleLoad() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Local provider: %s\n", cfg.LLM.Local.BaseURL)
	fmt.Printf("Knowledge DB: %s\n", cfg.Knowledge.DBPath)
}

// ExampleDefault demonstrates creating a config with default values.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Local endpoint: %s\n", cfg.LLM.Local.BaseURL)
	fmt.Printf("Cloud endpoint: %s\n", cfg.LLM.OpenRouter.BaseURL)
	fmt.Printf("Smart auto: %v\n", cfg.SmartAuto.Enabled)
	// Output:
	// Local endpoint: http://localhost:11434/v1
	// Cloud endpoint: https://openrouter.ai/api/v1
	// Smart auto: true
}

// ExampleConfig_Validate demonstrates configuration validation.
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	fmt.Println("Configuration is valid")

	cfg.LLM.Local.DefaultModel = "missing-from-table"
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Validation error: %v\n", err)
	}
	// Output:
	// Configuration is valid
	// Validation error: llm.local.default_model 'missing-from-table' not found in llm.local.models
}

// Example_modelTable demonstrates working with the logical model table.
func Example_modelTable() {
	cfg := config.Default()

	// Logical names map to whatever the local server actually serves.
	cfg.LLM.Local.Models["summarize"] = "phi3:mini"

	// English-only models trigger translation for Russian prompts.
	fmt.Printf("code requires English: %v\n", cfg.LLM.Local.RequiresEnglish("code"))
	fmt.Printf("chat requires English: %v\n", cfg.LLM.Local.RequiresEnglish("chat"))
	// Output:
	// code requires English: true
	// chat requires English: false
}

// Example_smartAuto demonstrates tuning category-based model selection.
func Example_smartAuto() {
	cfg := config.Default()

	// Route analysis prompts to the code model instead of the reasoning model.
	cfg.SmartAuto.CategoryModels["analysis"] = "code"

	fmt.Printf("analysis now routes to: %s\n", cfg.SmartAuto.CategoryModels["analysis"])
	// Output:
	// analysis now routes to: code
}
