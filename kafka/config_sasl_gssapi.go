package kafka

import "fmt"

const (
	GSSAPIAuthTypeUser   = "USER_AUTH"
	GSSAPIAuthTypeKeytab = "KEYTAB_AUTH"
)

// SASLGSSAPIConfig represents the Kafka Kerberos config
type SASLGSSAPIConfig struct {
	AuthType           string `koanf:"authType"`
	KeyTabPath         string `koanf:"keyTabPath"`
	KerberosConfigPath string `koanf:"kerberosConfigPath"`
	ServiceName        string `koanf:"serviceName"`
	Username           string `koanf:"username"`
	Password           string `koanf:"password"`
	Realm              string `koanf:"realm"`
}

func (c *SASLGSSAPIConfig) SetDefaults() {
	c.ServiceName = "kafka"
}

func (c *SASLGSSAPIConfig) Validate() error {
	switch c.AuthType {
	case GSSAPIAuthTypeUser, GSSAPIAuthTypeKeytab:
	default:
		return fmt.Errorf("given gssapi auth type '%v' is invalid, must be one of '%v' or '%v'",
			c.AuthType, GSSAPIAuthTypeUser, GSSAPIAuthTypeKeytab)
	}

	return nil
}
