package dispatch

import "github.com/normanking/relay/internal/config"

// SelectModel picks the logical model for one request. An explicit model
// option wins unconditionally. Otherwise Smart-Auto-Mode maps the task
// category through its configured table; requests fall back to the mode's
// default model when the mode is off or the category is unmapped.
func SelectModel(category TaskCategory, opts Options, smart config.SmartAutoConfig) string {
	if opts.Model != "" {
		return opts.Model
	}
	if !smart.Enabled {
		return smart.DefaultModel
	}
	if logical, ok := smart.CategoryModels[string(category)]; ok && logical != "" {
		return logical
	}
	return smart.DefaultModel
}
