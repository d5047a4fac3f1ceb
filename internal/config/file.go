package config

import (
	"time"

	"github.com/pelletier/go-toml/v2"
)

// duration decodes TOML strings like "1s" or "10m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// durations mirrors the duration-valued keys of each table. Absent keys stay
// nil and leave the current value alone.
type durations struct {
	API struct {
		PollInterval       *duration `toml:"poll_interval"`
		CompletionInterval *duration `toml:"completion_interval"`
		RequestTimeout     *duration `toml:"request_timeout"`
		LinkTTL            *duration `toml:"link_ttl"`
	} `toml:"api"`
	Server struct {
		ShutdownTimeout *duration `toml:"shutdown_timeout"`
	} `toml:"server"`
	History struct {
		Retention *duration `toml:"retention"`
	} `toml:"history"`
	Archive struct {
		Timeout *duration `toml:"timeout"`
	} `toml:"archive"`
}

// apply overlays a TOML document onto c. Keys missing from data keep
// their current values.
func (c *Config) apply(data []byte) error {
	if err := toml.Unmarshal(data, c); err != nil {
		return err
	}

	var d durations
	if err := toml.Unmarshal(data, &d); err != nil {
		return err
	}
	set := func(dst *time.Duration, src *duration) {
		if src != nil {
			*dst = src.Duration
		}
	}
	set(&c.API.PollInterval, d.API.PollInterval)
	set(&c.API.CompletionInterval, d.API.CompletionInterval)
	set(&c.API.RequestTimeout, d.API.RequestTimeout)
	set(&c.API.LinkTTL, d.API.LinkTTL)
	set(&c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
	set(&c.History.Retention, d.History.Retention)
	set(&c.Archive.Timeout, d.Archive.Timeout)
	return nil
}
