package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/combine"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/kv"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/profile"
)

var testSchema = []string{"TransactionAmount", "AccountBalance", "LoginAttempts"}

// testModels is a deterministic in-process model provider.
type testModels struct{}

func (testModels) Schema() []string { return testSchema }

func (testModels) AnomalyScore(context.Context, domain.FeatureVector) (float64, error) {
	return 0.8, nil
}

func (testModels) ClassifierProbability(context.Context, domain.FeatureVector) (float64, error) {
	return 0.6, nil
}

func (testModels) Explain(context.Context, domain.FeatureVector) ([]float64, error) {
	return []float64{0.1, -0.5, 0.3}, nil
}

// createTestServer wires a full community-tier stack with stub models.
func createTestServer() *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	store := kv.NewMemoryStore()
	scoreCache, _ := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	eventBus, _ := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 16})

	profiles := profile.NewStore(store, nil, nil)
	monitor := drift.NewMonitor(drift.DefaultConfig())
	combiner := combine.New(combine.TwoModelConfig())

	models := testModels{}
	reg := pipeline.NewRegistry(&pipeline.ProviderSet{Models: models})
	normalizer := feature.NewNormalizer(models.Schema(), 0)

	pipe := pipeline.New(reg, profiles, monitor, combiner, normalizer, scoreCache, eventBus)

	return NewServer(cfg, pipe, profiles, monitor, scoreCache, store, eventBus, "test-v1")
}

func postScore(t *testing.T, server *Server, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("SuccessfulScore", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{
			TransactionID: "tx-001",
			AccountID:     "AC0001",
			Amount:        250.00,
			Timestamp:     "2025-06-01T12:00:00Z",
			Type:          domain.TypeDebit,
			Channel:       domain.ChannelOnline,
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.ScoreID == "" {
			t.Error("expected scoreId in response")
		}
		if resp.TxID != "tx-001" {
			t.Errorf("expected txId tx-001, got %s", resp.TxID)
		}
		if resp.CompositeScore != 0.7 {
			t.Errorf("expected compositeScore 0.7, got %v", resp.CompositeScore)
		}
		if len(resp.TopFeatures) != len(testSchema) {
			t.Errorf("expected %d topFeatures, got %d", len(testSchema), len(resp.TopFeatures))
		}
		if resp.Warning != "" {
			t.Errorf("unexpected warning: %s", resp.Warning)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
	})

	t.Run("MissingAccountID", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{Amount: 100, Type: domain.TypeDebit})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{AccountID: "AC0001", Amount: -5})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestGetScoreEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("RoundTrip", func(t *testing.T) {
		rr := postScore(t, server, ScoreRequest{
			TransactionID: "tx-rt",
			AccountID:     "AC0002",
			Amount:        100,
			Type:          domain.TypeDebit,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("score failed: %d", rr.Code)
		}

		var scored ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &scored)

		req := httptest.NewRequest(http.MethodGet, "/scores/"+scored.ScoreID, nil)
		get := httptest.NewRecorder()
		server.Router().ServeHTTP(get, req)

		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", get.Code, get.Body.String())
		}

		var bundle domain.ScoreBundle
		if err := json.Unmarshal(get.Body.Bytes(), &bundle); err != nil {
			t.Fatalf("failed to parse bundle: %v", err)
		}
		if bundle.ID != scored.ScoreID {
			t.Errorf("expected score %s, got %s", scored.ScoreID, bundle.ID)
		}
		if bundle.TxID != "tx-rt" {
			t.Errorf("expected txId tx-rt, got %s", bundle.TxID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scores/no-such-score", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestGetProfileEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("UnknownCustomer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/customers/AC9999/profile", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("AfterScoring", func(t *testing.T) {
		if rr := postScore(t, server, ScoreRequest{
			AccountID: "AC0003",
			Amount:    500,
			Type:      domain.TypeCredit,
		}); rr.Code != http.StatusOK {
			t.Fatalf("score failed: %d", rr.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/customers/AC0003/profile", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Profile domain.CustomerProfile `json:"profile"`
			Stats   domain.ProfileStats    `json:"stats"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Profile.CustomerID != "AC0003" {
			t.Errorf("expected customer AC0003, got %s", resp.Profile.CustomerID)
		}
		if resp.Profile.TxCount != 1 {
			t.Errorf("expected txCount 1, got %d", resp.Profile.TxCount)
		}
		if resp.Stats.AvgAmount != 500 {
			t.Errorf("expected avgAmount 500, got %v", resp.Stats.AvgAmount)
		}
	})
}

func TestDriftStatusEndpoint(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest(http.MethodGet, "/drift/status", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var status drift.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if status.Phase != "filling-reference" {
		t.Errorf("expected phase filling-reference, got %s", status.Phase)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %s", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"2025-06-01T12:00:00Z", true},
		{"2025-06-01 12:00:00", true},
		{"2025-06-01T12:00", true},
		{"06/01/2025", false},
		{"", false},
	}

	for _, tc := range cases {
		if _, ok := parseTimestamp(tc.value); ok != tc.ok {
			t.Errorf("parseTimestamp(%q): expected ok=%v, got %v", tc.value, tc.ok, ok)
		}
	}
}
