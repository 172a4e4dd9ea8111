package log

import (
	"github.com/spf13/pflag"
)

// Options configures the dispatcher logger. Every field has a --log.* flag
// except Name and CallerSkip.
type Options struct {
	Name string `mapstructure:"name"`

	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is json or console.
	Format string `mapstructure:"format"`

	EnableColor   bool `mapstructure:"enable-color"`
	DisableCaller bool `mapstructure:"disable-caller"`

	// CallerSkip is the number of wrapper frames to drop when reporting the caller.
	CallerSkip int `mapstructure:"caller-skip"`

	OutputPaths []string `mapstructure:"output-paths"`
}

// NewOptions returns console output at info level.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  1,
		OutputPaths: []string{"stdout"},
	}
}

// AddFlags registers the --log.* flags on fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Lowest level written: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Encoding of log lines: json or console.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Color levels in console output.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit file:line of the call site.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Where to write logs: stdout, stderr or file paths.")
}
