// Package entity contains the domain types for the typescript-gateway
// service.
package entity

import (
	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

type keyType string

// SessionContextKey indicates the key used to identify the session UUID in
// the context.
const SessionContextKey keyType = "SessionUUID"

// Session represents a single client connection and the workspace
// materialized for it.
type Session struct {
	UUID             uuid.UUID                  `json:"uuid" zap:"uuid"`
	InitializeParams *protocol.InitializeParams `json:"-" zap:"-"`
	Conn             *jsonrpc2.Conn             `json:"-" zap:"-"`

	// HTTPRoot is the public workspace root supplied at initialize, with a
	// trailing slash.
	HTTPRoot string `json:"httpRoot" zap:"httpRoot"`
	// FileRoot is the file URI of the extracted workspace, with a trailing
	// slash.
	FileRoot string `json:"fileRoot" zap:"fileRoot"`
	// TempDir is the per-session scratch directory; it is removed last on
	// disposal.
	TempDir string `json:"tempDir" zap:"tempDir"`

	Config Config `json:"config" zap:"config"`
}

// Config is the session-scoped configuration lifted from
// initializationOptions.configuration.
type Config struct {
	DiagnosticsEnable   bool `json:"diagnosticsEnable"`
	Progress            bool `json:"progress"`
	RestartAfterInstall bool `json:"restartAfterDependencyInstallation"`

	// NPMRC is serialized into the per-session .npmrc passed to the
	// installer.
	NPMRC map[string]string `json:"npmrc"`

	SourcegraphURL string `json:"sourcegraphUrl"`
	AccessToken    string `json:"accessToken"`
}

// DefaultConfig returns the configuration used when initializationOptions
// carry no overrides. progressCapable reflects the client's advertised
// window/workDoneProgress capability.
func DefaultConfig(progressCapable bool) Config {
	return Config{
		Progress:            progressCapable,
		RestartAfterInstall: true,
	}
}

// ParseConfig lifts recognized typescript.* keys from the raw
// initializationOptions.configuration map onto defaults.
func ParseConfig(raw map[string]interface{}, defaults Config) Config {
	cfg := defaults
	if v, ok := raw["typescript.diagnostics.enable"].(bool); ok {
		cfg.DiagnosticsEnable = v
	}
	if v, ok := raw["typescript.progress"].(bool); ok {
		cfg.Progress = v
	}
	if v, ok := raw["typescript.restartAfterDependencyInstallation"].(bool); ok {
		cfg.RestartAfterInstall = v
	}
	if v, ok := raw["typescript.npmrc"].(map[string]interface{}); ok {
		cfg.NPMRC = make(map[string]string, len(v))
		for key, val := range v {
			if s, ok := val.(string); ok {
				cfg.NPMRC[key] = s
			}
		}
	}
	if v, ok := raw["typescript.sourcegraphUrl"].(string); ok {
		cfg.SourcegraphURL = v
	}
	if v, ok := raw["typescript.accessToken"].(string); ok {
		cfg.AccessToken = v
	}
	return cfg
}
