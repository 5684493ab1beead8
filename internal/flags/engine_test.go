package flags

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testProfile(txCount int64, totalAmount, maxAmount, risk float64) *domain.CustomerProfile {
	return &domain.CustomerProfile{
		CustomerID:  "AC1",
		FirstSeen:   time.Now().Add(-24 * time.Hour),
		TxCount:     txCount,
		TotalAmount: totalAmount,
		MaxAmount:   maxAmount,
		RiskScore:   risk,
		Behavior:    map[string]int64{},
	}
}

func TestEngineEvaluate(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := engine.LoadRules(BuiltinRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	t.Run("HighAmount", func(t *testing.T) {
		p := testProfile(10, 1000, 500, 0.5) // avg 100

		got := engine.Evaluate(p, 600, domain.TypeDebit)
		if !contains(got, "high_amount") {
			t.Errorf("expected high_amount for 6x average, got %v", got)
		}

		got = engine.Evaluate(p, 400, domain.TypeDebit)
		if contains(got, "high_amount") {
			t.Errorf("did not expect high_amount for 4x average, got %v", got)
		}
	})

	t.Run("HighAmountNeedsHistory", func(t *testing.T) {
		p := testProfile(2, 200, 100, 0.5)

		got := engine.Evaluate(p, 10000, domain.TypeDebit)
		if contains(got, "high_amount") {
			t.Errorf("high_amount should need more than 3 transactions, got %v", got)
		}
	})

	t.Run("CreditBurst", func(t *testing.T) {
		p := testProfile(10, 1000, 500, 0.5)

		got := engine.Evaluate(p, 2000, domain.TypeCredit)
		if !contains(got, "credit_burst") {
			t.Errorf("expected credit_burst, got %v", got)
		}

		got = engine.Evaluate(p, 2000, domain.TypeDebit)
		if contains(got, "credit_burst") {
			t.Errorf("credit_burst must only fire for credits, got %v", got)
		}
	})

	t.Run("RiskElevated", func(t *testing.T) {
		p := testProfile(10, 1000, 500, 0.85)

		got := engine.Evaluate(p, 100, domain.TypeDebit)
		if !contains(got, "risk_elevated") {
			t.Errorf("expected risk_elevated at 0.85, got %v", got)
		}
	})

	t.Run("ZeroHistoryDoesNotPanic", func(t *testing.T) {
		p := testProfile(0, 0, 0, 0.5)
		engine.Evaluate(p, 100, domain.TypeDebit)
	})
}

func TestLoadRuleRejectsNonBoolean(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	err = engine.LoadRule(Rule{ID: "bad", Flag: "bad", Expression: "amount + 1.0"})
	if err == nil {
		t.Error("expected error for non-boolean expression")
	}
}

func TestLoadRuleRejectsInvalidExpression(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	err = engine.LoadRule(Rule{ID: "bad", Flag: "bad", Expression: "amount >"})
	if err == nil {
		t.Error("expected error for unparseable expression")
	}
}

func TestEvaluateSkipsFailingRule(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	rules := []Rule{
		// Integer division by a zero-count profile errors at eval time.
		{ID: "fragile", Flag: "fragile", Expression: "100 / tx_count > 5"},
		{ID: "solid", Flag: "solid", Expression: "amount > 50.0"},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	p := testProfile(0, 0, 0, 0.5)
	got := engine.Evaluate(p, 100, domain.TypeDebit)

	if !contains(got, "solid") {
		t.Errorf("expected solid flag despite failing sibling, got %v", got)
	}
	if contains(got, "fragile") {
		t.Errorf("fragile rule should have errored out, got %v", got)
	}
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
