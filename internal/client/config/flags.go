package config

import (
	"github.com/spf13/pflag"
)

// Flags binds the configuration flags to a FlagSet and resolves the final
// Config once the set has been parsed.
type Flags struct {
	fs         *pflag.FlagSet
	values     Config
	configFile string
	noWizard   bool
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	var d Config
	d.LoadDefaults()

	fs.StringVarP(&f.values.Dir, "dir", "d", d.Dir, "path to lettera home folder")
	fs.StringVarP(&f.configFile, "config", "c", "", "JSON configuration file")
	fs.StringVar(&f.values.LogFormat, "log-format", d.LogFormat, "log format: text, json or zap")
	fs.BoolVarP(&f.values.Debug, "debug", "D", d.Debug, "debug logging")
	fs.IntVar(&f.values.QueueCapacity, "queue-capacity", d.QueueCapacity, "outgoing queue capacity per chat")
	fs.DurationVar(&f.values.SyncBaseInterval, "sync-interval", d.SyncBaseInterval, "base wait between sync cycles")
	fs.DurationVar(&f.values.SyncMaxInterval, "sync-max-interval", d.SyncMaxInterval, "maximum wait between idle sync cycles")
	fs.DurationVar(&f.values.TransportTimeout, "transport-timeout", d.TransportTimeout, "mail server dial/command timeout")
	fs.BoolVarP(&f.noWizard, "no-wizard", "W", false, "disable wizards")
	return f
}

// Resolve applies defaults, then the JSON file (if --config was given), then
// every flag the user set explicitly.
func (f *Flags) Resolve() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if f.configFile != "" {
		if err := ApplyJSON(cfg, f.configFile); err != nil {
			return nil, err
		}
	}

	f.fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "dir":
			cfg.Dir = f.values.Dir
		case "log-format":
			cfg.LogFormat = f.values.LogFormat
		case "debug":
			cfg.Debug = f.values.Debug
		case "queue-capacity":
			cfg.QueueCapacity = f.values.QueueCapacity
		case "sync-interval":
			cfg.SyncBaseInterval = f.values.SyncBaseInterval
		case "sync-max-interval":
			cfg.SyncMaxInterval = f.values.SyncMaxInterval
		case "transport-timeout":
			cfg.TransportTimeout = f.values.TransportTimeout
		case "no-wizard":
			cfg.Wizard = !f.noWizard
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
