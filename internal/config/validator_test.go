package config

import (
	"testing"
)

func fieldsOf(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name: "tcp bridge needs no baud",
			mutate: func(c *Config) {
				c.Trigger.Port = ""
				c.Trigger.Address = "sensor.local:2000"
				c.Trigger.Baud = 0
			},
		},
		{
			name: "no trigger link",
			mutate: func(c *Config) {
				c.Trigger.Port = ""
			},
			want: []string{"trigger.port"},
		},
		{
			name: "blank tokens",
			mutate: func(c *Config) {
				c.Trigger.Tokens = []string{" ", ""}
			},
			want: []string{"trigger.tokens"},
		},
		{
			name: "zero read timeout",
			mutate: func(c *Config) {
				c.Trigger.ReadTimeoutMs = 0
			},
			want: []string{"trigger.read_timeout_ms"},
		},
		{
			name: "too many frames and negative delay",
			mutate: func(c *Config) {
				c.Capture.Frames = 101
				c.Capture.DelayMs = -1
			},
			want: []string{"capture.frames", "capture.delay_ms"},
		},
		{
			name: "threshold out of range",
			mutate: func(c *Config) {
				c.Policy.Threshold = 2.5
			},
			want: []string{"policy.threshold"},
		},
		{
			name: "nobody authorized",
			mutate: func(c *Config) {
				c.Policy.AuthorizedLabel = ""
			},
			want: []string{"policy.authorized_label"},
		},
		{
			name: "identity list alone is enough",
			mutate: func(c *Config) {
				c.Policy.AuthorizedLabel = ""
				c.Policy.AuthorizedIdentities = []string{"alice"}
			},
		},
		{
			name: "mqtt qos",
			mutate: func(c *Config) {
				c.Alerts.MQTT.QoS = 3
			},
			want: []string{"alerts.mqtt.qos"},
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Store.Mirror = MirrorPostgres
			},
			want: []string{"store.postgres_dsn"},
		},
		{
			name: "s3 without endpoint",
			mutate: func(c *Config) {
				c.Store.Mirror = MirrorS3
			},
			want: []string{"store.s3.endpoint"},
		},
		{
			name: "logging",
			mutate: func(c *Config) {
				c.Logging.Level = "trace"
				c.Logging.Format = "xml"
			},
			want: []string{"logging.level", "logging.format"},
		},
		{
			name: "empty api addr",
			mutate: func(c *Config) {
				c.API.Addr = ""
			},
			want: []string{"api.addr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			got := fieldsOf(cfg.Validate())
			if len(got) != len(tt.want) {
				t.Fatalf("Validate() fields = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Validate()[%d].Field = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
