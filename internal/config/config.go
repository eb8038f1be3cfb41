package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log" validate:"required"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher" yaml:"dispatcher" validate:"required"`
	Fetch       FetchConfig       `mapstructure:"fetch" yaml:"fetch" validate:"required"`
	Loop        LoopConfig        `mapstructure:"loop" yaml:"loop" validate:"required"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics" validate:"required"`
	Widgets     []WidgetConfig    `mapstructure:"widgets" yaml:"widgets" validate:"dive"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
}

// DispatcherConfig sizes the work item dispatcher.
type DispatcherConfig struct {
	RequestQueueSize  int           `mapstructure:"request_queue_size" yaml:"request_queue_size" validate:"required,gt=0"`
	ResponseQueueSize int           `mapstructure:"response_queue_size" yaml:"response_queue_size" validate:"required,gt=0"`
	MaxConcurrent     int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"required,gt=0"`
	LeakCheckInterval time.Duration `mapstructure:"leak_check_interval" yaml:"leak_check_interval" validate:"gte=0"`

	// MaxExecutionContexts caps live execution goroutines. Zero means no cap.
	MaxExecutionContexts int `mapstructure:"max_execution_contexts" yaml:"max_execution_contexts" validate:"gte=0"`
}

// FetchConfig contains settings for outbound HTTP GETs.
type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"required,gt=0"`
	Retries    int           `mapstructure:"retries" yaml:"retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// LoopConfig controls the control loop cadence.
type LoopConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"required,gt=0"`
	// CycleInterval switches to the next widget periodically. Zero disables cycling.
	CycleInterval time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval" validate:"gte=0"`
	MailboxSize   int           `mapstructure:"mailbox_size" yaml:"mailbox_size" validate:"required,gt=0"`
	// ShutdownTimeout bounds the wait for executing work items on exit.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// DiagnosticsConfig contains the diagnostics HTTP server settings.
type DiagnosticsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"required,gt=0,lt=65536"`
}

// WidgetConfig describes one web data widget.
type WidgetConfig struct {
	Name     string        `mapstructure:"name" yaml:"name" validate:"required"`
	URL      string        `mapstructure:"url" yaml:"url" validate:"required,url"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"required,gt=0"`
	// FollowUp names a top-level string field of the fetched document holding a
	// second URL to fetch once the first one arrives.
	FollowUp string `mapstructure:"follow_up" yaml:"follow_up"`
}
