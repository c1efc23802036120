package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/francitoshi/lettera/internal/common"
)

// Duration unmarshals from either a duration string ("5s") or nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x)
	case string:
		p, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		d.Duration = p
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// JsonConfig is the on-disk DTO. Absent fields leave the Config untouched.
type JsonConfig struct {
	Dir              *string   `json:"dir"`
	LogFormat        *string   `json:"log_format"`
	Debug            *bool     `json:"debug"`
	QueueCapacity    *int      `json:"queue_capacity"`
	SyncInterval     *Duration `json:"sync_interval"`
	SyncMaxInterval  *Duration `json:"sync_max_interval"`
	TransportTimeout *Duration `json:"transport_timeout"`
	Wizard           *bool     `json:"wizard"`
}

// ApplyJSON overlays cfg with the fields present in the JSON file at path.
func ApplyJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", common.ErrConfig, path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", common.ErrConfig, path, err)
	}

	if jc.Dir != nil {
		cfg.Dir = *jc.Dir
	}
	if jc.LogFormat != nil {
		cfg.LogFormat = *jc.LogFormat
	}
	if jc.Debug != nil {
		cfg.Debug = *jc.Debug
	}
	if jc.QueueCapacity != nil {
		cfg.QueueCapacity = *jc.QueueCapacity
	}
	if jc.SyncInterval != nil {
		cfg.SyncBaseInterval = jc.SyncInterval.Duration
	}
	if jc.SyncMaxInterval != nil {
		cfg.SyncMaxInterval = jc.SyncMaxInterval.Duration
	}
	if jc.TransportTimeout != nil {
		cfg.TransportTimeout = jc.TransportTimeout.Duration
	}
	if jc.Wizard != nil {
		cfg.Wizard = *jc.Wizard
	}
	return nil
}
