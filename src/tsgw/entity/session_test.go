package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(true)
	assert.True(t, cfg.Progress)
	assert.True(t, cfg.RestartAfterInstall)
	assert.False(t, cfg.DiagnosticsEnable)

	assert.False(t, DefaultConfig(false).Progress)
}

func TestParseConfig(t *testing.T) {
	t.Run("lifts recognized keys", func(t *testing.T) {
		cfg := ParseConfig(map[string]interface{}{
			"typescript.diagnostics.enable":                 true,
			"typescript.progress":                           false,
			"typescript.restartAfterDependencyInstallation": false,
			"typescript.sourcegraphUrl":                     "https://sourcegraph.example.com",
			"typescript.accessToken":                        "tok",
			"typescript.npmrc": map[string]interface{}{
				"registry": "https://registry.internal",
				"ignored":  42,
			},
		}, DefaultConfig(true))

		assert.True(t, cfg.DiagnosticsEnable)
		assert.False(t, cfg.Progress)
		assert.False(t, cfg.RestartAfterInstall)
		assert.Equal(t, "https://sourcegraph.example.com", cfg.SourcegraphURL)
		assert.Equal(t, "tok", cfg.AccessToken)
		assert.Equal(t, map[string]string{"registry": "https://registry.internal"}, cfg.NPMRC)
	})

	t.Run("keeps defaults for absent keys", func(t *testing.T) {
		cfg := ParseConfig(map[string]interface{}{}, DefaultConfig(true))
		assert.True(t, cfg.Progress)
		assert.True(t, cfg.RestartAfterInstall)
	})

	t.Run("ignores values of the wrong type", func(t *testing.T) {
		cfg := ParseConfig(map[string]interface{}{
			"typescript.progress": "yes",
		}, DefaultConfig(true))
		assert.True(t, cfg.Progress)
	})
}
