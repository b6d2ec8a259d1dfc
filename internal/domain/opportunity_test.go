package domain

import "testing"

func TestOpportunityBaseQuote(t *testing.T) {
	cases := []struct {
		symbol, base, quote string
	}{
		{"BTC/USDT", "BTC", "USDT"},
		{"ETH/USDC", "ETH", "USDC"},
		{"SOLUSDT", "SOLUSDT", ""},
	}
	for _, tc := range cases {
		o := Opportunity{Symbol: tc.symbol}
		if got := o.Base(); got != tc.base {
			t.Errorf("Base(%s) = %q, want %q", tc.symbol, got, tc.base)
		}
		if got := o.Quote(); got != tc.quote {
			t.Errorf("Quote(%s) = %q, want %q", tc.symbol, got, tc.quote)
		}
	}
}
