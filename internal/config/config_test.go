package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AI_PROVIDER", "static")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data/companion.db", cfg.DBPath)
	assert.Equal(t, "Asia/Shanghai", cfg.SchedulerTZ)
	assert.Equal(t, 4, cfg.SchedulerWorkers)
	assert.Equal(t, 30*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, []string{"*"}, cfg.WSAllowedOrigins)
	assert.Empty(t, cfg.BotToken)
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())
}

func TestLoad_DotEnv(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("AI_PROVIDER=static\nSCHEDULER_WORKERS=9\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("AI_PROVIDER")
		os.Unsetenv("SCHEDULER_WORKERS")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.SchedulerWorkers)
}

func TestValidate(t *testing.T) {
	base := Config{
		SchedulerTZ:       "UTC",
		SchedulerWorkers:  1,
		GenerationTimeout: time.Second,
		AIProvider:        "static",
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"bad tz":       func(c *Config) { c.SchedulerTZ = "Nowhere/Land" },
		"no workers":   func(c *Config) { c.SchedulerWorkers = 0 },
		"zero timeout": func(c *Config) { c.GenerationTimeout = 0 },
		"neg drain":    func(c *Config) { c.SchedulerDrainTimeout = -time.Second },
		"no key":       func(c *Config) { c.AIProvider = "openai" },
		"bad provider": func(c *Config) { c.AIProvider = "oracle" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
