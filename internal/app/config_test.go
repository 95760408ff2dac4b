package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid minimal",
			cfg:  Config{Node: "localhost", TracePort: "20000", ListenPort: "19021"},
		},
		{
			name: "valid with extras",
			cfg: Config{
				Node: "t32host", TracePort: "20000", ListenPort: "19021",
				PackLen: "1024", Script: "boot.cmm", Record: "session.log",
			},
		},
		{
			name:    "missing node",
			cfg:     Config{TracePort: "20000", ListenPort: "19021"},
			wantErr: "--node",
		},
		{
			name:    "missing tport",
			cfg:     Config{Node: "localhost", ListenPort: "19021"},
			wantErr: "--tport",
		},
		{
			name:    "missing lport",
			cfg:     Config{Node: "localhost", TracePort: "20000"},
			wantErr: "--lport",
		},
		{
			name:    "unparseable tport",
			cfg:     Config{Node: "localhost", TracePort: "rcl", ListenPort: "19021"},
			wantErr: "--tport",
		},
		{
			name:    "lport out of range",
			cfg:     Config{Node: "localhost", TracePort: "20000", ListenPort: "65536"},
			wantErr: "--lport",
		},
		{
			name:    "packlen too large",
			cfg:     Config{Node: "localhost", TracePort: "20000", ListenPort: "19021", PackLen: "2048"},
			wantErr: "--packlen",
		},
		{
			name:    "packlen not a number",
			cfg:     Config{Node: "localhost", TracePort: "20000", ListenPort: "19021", PackLen: "big"},
			wantErr: "--packlen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
