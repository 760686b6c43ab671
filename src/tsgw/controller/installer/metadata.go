package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/config"
	"go.uber.org/fx"
)

const _configKeyRegistryURL = "registry.url"

// MetadataModule provides the registry metadata client.
var MetadataModule = fx.Provide(NewMetadataClient)

// MetadataClient answers whether a package ships its own type
// declarations, per its registry metadata.
type MetadataClient interface {
	HasTypes(ctx context.Context, name string) (bool, error)
}

type metadataClient struct {
	registryURL string
	client      *http.Client
}

// NewMetadataClient builds a client against the configured npm registry.
func NewMetadataClient(cfg config.Provider) (MetadataClient, error) {
	var registryURL string
	if err := cfg.Get(_configKeyRegistryURL).Populate(&registryURL); err != nil {
		return nil, fmt.Errorf("getting config field %q: %w", _configKeyRegistryURL, err)
	}
	if registryURL == "" {
		registryURL = "https://registry.npmjs.org"
	}
	return &metadataClient{registryURL: registryURL, client: http.DefaultClient}, nil
}

func (m *metadataClient) HasTypes(ctx context.Context, name string) (bool, error) {
	endpoint := m.registryURL + "/" + url.PathEscape(name) + "/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("registry returned %s for %q", resp.Status, name)
	}

	var meta struct {
		Types   string `json:"types"`
		Typings string `json:"typings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return false, err
	}
	return meta.Types != "" || meta.Typings != "", nil
}
