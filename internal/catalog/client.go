package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/equiplease/quote-api/internal/resilience"
)

// HTTPSource talks to the external price/catalog service over REST. Requests
// go through the resilient client so a flapping price service degrades into
// cached or absent data instead of cascading failures.
type HTTPSource struct {
	BaseURL string
	Client  *resilience.HTTPClient
}

// Model fetches base cost and option availability for one model.
func (s *HTTPSource) Model(ctx context.Context, family, model string) (Model, error) {
	var out Model
	path := fmt.Sprintf("/v1/models/%s/%s", url.PathEscape(family), url.PathEscape(model))
	if err := s.getJSON(ctx, path, &out); err != nil {
		return Model{}, err
	}
	return out, nil
}

// ContainerMapping fetches the container packing data for a family. A 404
// from the price service means the family simply has no mapping.
func (s *HTTPSource) ContainerMapping(ctx context.Context, family string) (ContainerMapping, bool, error) {
	var out ContainerMapping
	path := "/v1/containers/" + url.PathEscape(family)
	err := s.getJSON(ctx, path, &out)
	if err != nil {
		if err == ErrNotFound {
			return ContainerMapping{}, false, nil
		}
		return ContainerMapping{}, false, err
	}
	return out, true, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, dst any) error {
	if s == nil || s.Client == nil {
		return fmt.Errorf("catalog: http source not configured")
	}
	base := strings.TrimRight(s.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("catalog: request %s: %w", path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("catalog: request %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return nil
}
