package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// schemaOnly is a model provider whose only meaningful behavior is its
// declared schema.
type schemaOnly struct {
	schema []string
}

func (s *schemaOnly) Schema() []string { return s.schema }

func (s *schemaOnly) AnomalyScore(context.Context, domain.FeatureVector) (float64, error) {
	return 0, nil
}

func (s *schemaOnly) ClassifierProbability(context.Context, domain.FeatureVector) (float64, error) {
	return 0, nil
}

func (s *schemaOnly) Explain(context.Context, domain.FeatureVector) ([]float64, error) {
	return nil, nil
}

func newRegistry(schema ...string) (*pipeline.Registry, *schemaOnly) {
	models := &schemaOnly{schema: schema}
	return pipeline.NewRegistry(&pipeline.ProviderSet{Models: models}), models
}

func TestRefreshSwapsProviderSet(t *testing.T) {
	reg, initial := newRegistry("a", "b")
	replacement := &schemaOnly{schema: []string{"a", "b"}}

	r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
		return &pipeline.ProviderSet{Models: replacement}, nil
	}, time.Minute)

	r.refresh(context.Background())

	if reg.Current().Models == initial {
		t.Error("expected the refreshed set to replace the initial one")
	}
	if reg.Current().Models != replacement {
		t.Error("active set is not the refreshed one")
	}
}

func TestRefreshFailureKeepsActiveSet(t *testing.T) {
	reg, initial := newRegistry("a", "b")

	r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
		return nil, errors.New("model service unreachable")
	}, time.Minute)

	r.refresh(context.Background())

	if reg.Current().Models != initial {
		t.Error("load failure must keep the active provider set")
	}
}

func TestRefreshRejectsNilModels(t *testing.T) {
	reg, initial := newRegistry("a", "b")

	r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
		return &pipeline.ProviderSet{}, nil
	}, time.Minute)

	r.refresh(context.Background())

	if reg.Current().Models != initial {
		t.Error("a set without models must be rejected")
	}
}

func TestRefreshRejectsSchemaChange(t *testing.T) {
	reg, initial := newRegistry("a", "b")

	t.Run("DifferentLength", func(t *testing.T) {
		r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
			return &pipeline.ProviderSet{Models: &schemaOnly{schema: []string{"a", "b", "c"}}}, nil
		}, time.Minute)
		r.refresh(context.Background())
		if reg.Current().Models != initial {
			t.Error("schema length change must be rejected")
		}
	})

	t.Run("DifferentOrder", func(t *testing.T) {
		r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
			return &pipeline.ProviderSet{Models: &schemaOnly{schema: []string{"b", "a"}}}, nil
		}, time.Minute)
		r.refresh(context.Background())
		if reg.Current().Models != initial {
			t.Error("schema reorder must be rejected")
		}
	})
}

func TestStartStop(t *testing.T) {
	reg, _ := newRegistry("a")

	loaded := make(chan struct{}, 16)
	r := New(reg, func(context.Context) (*pipeline.ProviderSet, error) {
		select {
		case loaded <- struct{}{}:
		default:
		}
		return &pipeline.ProviderSet{Models: &schemaOnly{schema: []string{"a"}}}, nil
	}, 10*time.Millisecond)

	r.Start()

	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop never ran")
	}

	r.Stop()

	// Stop must be idempotent for shutdown paths that call it twice.
	r.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	reg, _ := newRegistry("a")
	r := New(reg, nil, time.Minute)
	r.Stop()
}
