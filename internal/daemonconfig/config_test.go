package daemonconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlagsAppliesDefaults(t *testing.T) {
	cfg, err := FromFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultProxyPort, cfg.ProxyPort)
	assert.Equal(t, defaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, defaultEngineBinary, cfg.EngineBinary)
}

func TestFromFlagsOverridesDefaults(t *testing.T) {
	cfg, err := FromFlags([]string{"-port", "9999", "-engine-binary", "/usr/bin/mpv"})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/usr/bin/mpv", cfg.EngineBinary)
}

func TestFromFlagsEnvOverridesDefaultButNotExplicitFlag(t *testing.T) {
	t.Setenv("RADDAEMON_PORT", "1234")
	t.Setenv("RADDAEMON_HTTP_PORT", "5678")

	cfg, err := FromFlags([]string{"-http-port", "9000"})
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)     // env applied, no flag given
	assert.Equal(t, 9000, cfg.HTTPPort) // explicit flag wins over env
}

func TestFromFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := FromFlags([]string{"-not-a-real-flag"})
	assert.Error(t, err)
}
