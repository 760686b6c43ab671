package tarball

import (
	"encoding/json"
	iofs "io/fs"
	"path/filepath"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/fs"
)

// SanitizeTsConfigs rewrites every tsconfig.json under root with its
// compilerOptions.plugins field removed. Plugins would be loaded out of
// untrusted node_modules and must never execute. Files that fail to parse
// are logged and left as-is.
func SanitizeTsConfigs(gwfs fs.GatewayFS, root string, logger *zap.SugaredLogger) error {
	return gwfs.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(p) != "tsconfig.json" {
			return nil
		}
		if err := sanitizeOne(gwfs, p); err != nil {
			logger.Warnw("sanitizing tsconfig", "path", p, "error", err)
		}
		return nil
	})
}

func sanitizeOne(gwfs fs.GatewayFS, p string) error {
	data, err := gwfs.ReadFile(p)
	if err != nil {
		return err
	}

	// tsconfig.json allows comments and trailing commas.
	var config map[string]interface{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &config); err != nil {
		return err
	}

	opts, ok := config["compilerOptions"].(map[string]interface{})
	if !ok {
		return nil
	}
	if _, ok := opts["plugins"]; !ok {
		return nil
	}
	delete(opts, "plugins")

	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return gwfs.WriteFile(p, out)
}
