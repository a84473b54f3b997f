package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.Validate())
	assert.True(t, cfg.Mirror)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   int
	}{
		{"negative device", func(c *Config) { c.Device = -1 }, 1},
		{"tiny frame", func(c *Config) { c.Width, c.Height = 10, 10 }, 2},
		{"zero fps", func(c *Config) { c.Framerate = 0 }, 1},
		{"quality too high", func(c *Config) { c.Quality = 101 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Len(t, cfg.Validate(), tt.want)
		})
	}
}

func TestPresets(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := GetPreset(name)
		if assert.NotNil(t, cfg, name) {
			assert.Empty(t, cfg.Validate(), name)
		}
	}
	assert.Nil(t, GetPreset("4k"))
}
