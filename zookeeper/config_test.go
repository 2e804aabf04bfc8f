package zookeeper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	table := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "disabled config needs nothing",
			cfg:     Config{},
			wantErr: false,
		},
		{
			name: "enabled without servers",
			cfg: Config{
				Enabled:        true,
				SessionTimeout: 5 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "chroot without leading slash",
			cfg: Config{
				Enabled:        true,
				Servers:        []string{"localhost:2181"},
				Chroot:         "kafka",
				SessionTimeout: 5 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "valid enabled config",
			cfg: Config{
				Enabled:        true,
				Servers:        []string{"localhost:2181"},
				Chroot:         "/kafka",
				SessionTimeout: 5 * time.Second,
			},
			wantErr: false,
		},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
