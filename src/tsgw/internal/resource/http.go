package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sourcegraph/typescript-gateway/src/tsgw/internal/errors"
)

type httpRetriever struct {
	client *http.Client
}

// NewHTTPRetriever returns a Retriever over http(s). A nil client uses
// http.DefaultClient.
func NewHTTPRetriever(client *http.Client) Retriever {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpRetriever{client: client}
}

func (r *httpRetriever) Fetch(ctx context.Context, rawURI string) ([]byte, error) {
	resp, err := r.do(ctx, http.MethodGet, rawURI)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &errors.ResourceNotFoundError{URI: rawURI}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetching %q: unexpected status %s", rawURI, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (r *httpRetriever) Exists(ctx context.Context, rawURI string) (bool, error) {
	resp, err := r.do(ctx, http.MethodHead, rawURI)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("checking %q: unexpected status %s", rawURI, resp.Status)
	}
	return true, nil
}

func (r *httpRetriever) Glob(ctx context.Context, rootURI string, pattern string, ignore []string, fn func(rawURI string) error) error {
	return fmt.Errorf("glob is not supported over http")
}

// do issues a request, moving a userinfo credential into an Authorization
// bearer header.
func (r *httpRetriever) do(ctx context.Context, method, rawURI string) (*http.Response, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	var token string
	if u.User != nil {
		token = u.User.Username()
		u.User = nil
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return r.client.Do(req)
}
