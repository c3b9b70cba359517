package config

import "time"

// ContextPruningConfig controls how the orchestrator trims accumulated tool
// output from the conversation transcript before it's sent back to the
// model. Pointer fields distinguish "unset" (take the runtime default) from
// an explicit zero value.
type ContextPruningConfig struct {
	// Mode selects the pruning strategy. Currently only "cache_ttl" prunes;
	// any other value (including empty) disables pruning entirely.
	Mode string `yaml:"mode"`

	TTL                  *time.Duration `yaml:"ttl"`
	KeepLastAssistants   *int           `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64       `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64       `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int           `yaml:"min_prunable_tool_chars"`

	Tools     ContextPruningToolMatchConfig `yaml:"tools"`
	SoftTrim  ContextPruningSoftTrimConfig  `yaml:"soft_trim"`
	HardClear ContextPruningHardClearConfig `yaml:"hard_clear"`
}

// ContextPruningToolMatchConfig allow/deny-lists which tool results are eligible for pruning.
type ContextPruningToolMatchConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrimConfig bounds head/tail truncation of a prunable tool result.
type ContextPruningSoftTrimConfig struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClearConfig controls full replacement of very old tool results.
type ContextPruningHardClearConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
