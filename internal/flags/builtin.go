package flags

// BuiltinRules returns the default flag rules loaded when no custom
// rules are configured.
func BuiltinRules() []Rule {
	return []Rule{
		{ID: "high-amount", Flag: "high_amount", Expression: "tx_count > 3 && amount > avg_amount * 5.0"},
		{ID: "credit-burst", Flag: "credit_burst", Expression: `tx_type == "Credit" && amount > avg_amount * 10.0`},
		{ID: "risk-elevated", Flag: "risk_elevated", Expression: "risk_score >= 0.85"},
	}
}
