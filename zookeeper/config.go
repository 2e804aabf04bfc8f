package zookeeper

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Enabled specifies whether consumer group offsets shall be read from ZooKeeper at all. Old
	// consumers commit their offsets into ZooKeeper rather than into Kafka itself.
	Enabled bool `koanf:"enabled"`

	// Servers are the ZooKeeper hosts ("host:port") of the ensemble that stores the consumer offsets.
	Servers []string `koanf:"servers"`

	// Chroot is an optional path prefix under which the /consumers tree lives.
	Chroot string `koanf:"chroot"`

	SessionTimeout time.Duration `koanf:"sessionTimeout"`
}

func (c *Config) SetDefaults() {
	c.Enabled = false
	c.SessionTimeout = 5 * time.Second
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Servers) == 0 {
		return fmt.Errorf("zookeeper is enabled but no servers are configured")
	}

	if c.Chroot != "" && !strings.HasPrefix(c.Chroot, "/") {
		return fmt.Errorf("zookeeper chroot '%v' must start with a slash", c.Chroot)
	}

	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be greater than 0")
	}

	return nil
}
