package models

import "testing"

func TestNewPairName(t *testing.T) {
	tests := []struct {
		input string
		quote string
		base  string
	}{
		{"ETCUSD", "ETC", "USD"},
		{"etcusd", "ETC", "USD"},
		{"BTCUSDT", "BTC", "USDT"},
		{"BTC", "BTC", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			pair := NewPairName(tt.input)
			if pair.Quote != tt.quote || pair.Base != tt.base {
				t.Errorf("expected %s/%s, got %s/%s", tt.quote, tt.base, pair.Quote, pair.Base)
			}
		})
	}
}

func TestPairNameFormat(t *testing.T) {
	pair := NewPairName("ETCUSD")

	tests := []struct {
		template string
		expected string
	}{
		{"{quote}{base}", "ETCUSD"},
		{"{quote}/{base}", "ETC/USD"},
		{"t{quote}{base}", "tETCUSD"},
	}

	for _, tt := range tests {
		if got := pair.Format(tt.template); got != tt.expected {
			t.Errorf("Format(%q): expected %q, got %q", tt.template, tt.expected, got)
		}
	}
}

func TestMoneyEqual(t *testing.T) {
	tests := []struct {
		name  string
		a     Money
		b     Money
		equal bool
	}{
		{"identical", NewMoney(100, "USD"), NewMoney(100, "USD"), true},
		{"within precision", NewMoney(100.001, "USD"), NewMoney(100.004, "USD"), true},
		{"beyond precision", NewMoney(100.01, "USD"), NewMoney(100.02, "USD"), false},
		{"different currency", NewMoney(100, "USD"), NewMoney(100, "EUR"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("expected Equal=%v for %s and %s", tt.equal, tt.a, tt.b)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	if got := NewMoney(305, "USD").String(); got != "305.0000 USD" {
		t.Errorf("unexpected format: %q", got)
	}
}
