// Package providers contains clients for the external model services.
// The trained models themselves (anomaly detector, gradient-boosted
// classifier, graph model, attribution explainer) are opaque
// collaborators reachable over HTTP.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPProvider calls a model-serving service exposing /schema,
// /anomaly, /classify and /explain.
type HTTPProvider struct {
	base   string
	client *http.Client
	schema []string
}

// NewHTTPProvider connects to the model service and fetches its
// declared feature schema.
func NewHTTPProvider(baseURL string, timeout time.Duration) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model service URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &HTTPProvider{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
	}

	var resp struct {
		Features []string `json:"features"`
	}
	if err := p.get(context.Background(), "/schema", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch model schema: %w", err)
	}
	if len(resp.Features) == 0 {
		return nil, fmt.Errorf("model service declared an empty schema")
	}
	p.schema = resp.Features

	return p, nil
}

// Schema returns the feature names declared by the model service.
func (p *HTTPProvider) Schema() []string {
	return append([]string(nil), p.schema...)
}

// AnomalyScore calls the anomaly detector.
func (p *HTTPProvider) AnomalyScore(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	var resp struct {
		Score float64 `json:"score"`
	}
	if err := p.post(ctx, "/anomaly", fv, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

// ClassifierProbability calls the gradient-boosted classifier.
func (p *HTTPProvider) ClassifierProbability(ctx context.Context, fv domain.FeatureVector) (float64, error) {
	var resp struct {
		Probability float64 `json:"probability"`
	}
	if err := p.post(ctx, "/classify", fv, &resp); err != nil {
		return 0, err
	}
	return resp.Probability, nil
}

// Explain calls the attribution explainer.
func (p *HTTPProvider) Explain(ctx context.Context, fv domain.FeatureVector) ([]float64, error) {
	var resp struct {
		Attributions []float64 `json:"attributions"`
	}
	if err := p.post(ctx, "/explain", fv, &resp); err != nil {
		return nil, err
	}
	return resp.Attributions, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *HTTPProvider) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, out)
}

func (p *HTTPProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("model service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service returned %d for %s", resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode model service response: %w", err)
	}
	return nil
}

// GraphHTTPProvider calls the optional graph-model service.
type GraphHTTPProvider struct {
	base   string
	client *http.Client
}

// NewGraphHTTPProvider creates a graph model client.
func NewGraphHTTPProvider(baseURL string, timeout time.Duration) (*GraphHTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("graph service URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GraphHTTPProvider{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Probability calls the graph model with the raw transaction context.
func (g *GraphHTTPProvider) Probability(ctx context.Context, tx *domain.Transaction) (float64, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/graph", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("graph service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("graph service returned %d", resp.StatusCode)
	}

	var out struct {
		Probability float64 `json:"probability"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode graph service response: %w", err)
	}
	return out.Probability, nil
}
