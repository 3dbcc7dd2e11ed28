package config

type Config struct {
	// LogLevel is the log level (debug, info, warn, error, none)
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	// Checkpoint configures where checkpoints go by default
	Checkpoint Checkpoint `json:"checkpoint" mapstructure:"checkpoint"`
	// CRIU configures the CRIU binary invocation
	CRIU CRIU `json:"criu" mapstructure:"criu"`
}

type Checkpoint struct {
	// Dir is the default image directory, relative to the working
	// directory unless absolute
	Dir string `json:"dir" mapstructure:"dir"`
}

type CRIU struct {
	// BinaryPath is the path to the criu binary, resolved through PATH
	// when not absolute
	BinaryPath string `json:"binary_path" mapstructure:"binary_path"`
	// LogLevel is the verbosity CRIU writes its log files with
	LogLevel int `json:"log_level" mapstructure:"log_level"`
	// LeaveRunning leaves the process tree running after a checkpoint
	LeaveRunning bool `json:"leave_running" mapstructure:"leave_running"`
}
