package prometheus

import (
	"fmt"
	"time"
)

type Config struct {
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	Namespace string `koanf:"namespace"`

	// CheckTimeout is the maximum duration of one check cycle, which is triggered per scrape.
	CheckTimeout time.Duration `koanf:"checkTimeout"`
}

func (c *Config) SetDefaults() {
	c.Port = 8080
	c.Namespace = "klag"
	c.CheckTimeout = 60 * time.Second
}

func (c *Config) Validate() error {
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("check timeout must be greater than 0")
	}

	return nil
}
