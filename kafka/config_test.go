package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	table := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "defaults without brokers",
			mutate:  func(cfg *Config) {},
			wantErr: true,
		},
		{
			name: "valid minimal config",
			mutate: func(cfg *Config) {
				cfg.Brokers = []string{"localhost:9092"}
			},
			wantErr: false,
		},
		{
			name: "tls cert without key",
			mutate: func(cfg *Config) {
				cfg.Brokers = []string{"localhost:9092"}
				cfg.TLS.Enabled = true
				cfg.TLS.CertFilepath = "/etc/certs/client.pem"
			},
			wantErr: true,
		},
		{
			name: "unknown sasl mechanism",
			mutate: func(cfg *Config) {
				cfg.Brokers = []string{"localhost:9092"}
				cfg.SASL.Enabled = true
				cfg.SASL.Mechanism = "OAUTHBEARER"
			},
			wantErr: true,
		},
		{
			name: "scram mechanism",
			mutate: func(cfg *Config) {
				cfg.Brokers = []string{"localhost:9092"}
				cfg.SASL.Enabled = true
				cfg.SASL.Mechanism = SASLMechanismScramSHA256
			},
			wantErr: false,
		},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			var cfg Config
			cfg.SetDefaults()
			test.mutate(&cfg)

			err := cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
