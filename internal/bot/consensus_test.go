package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Тесты консенсуса цен двух венью
// ============================================================

func TestDeviation(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want string
	}{
		{"identical prices", "100", "100", "0"},
		{"perp below lending", "100", "99", "1"},
		{"lending below perp", "98", "100", "2"},
		{"denominator is the larger price", "50", "100", "50"},
		{"zero lending price gives sentinel", "0", "100", "100"},
		{"zero perp price gives sentinel", "100", "0", "100"},
		{"both zero gives sentinel", "0", "0", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := decimal.RequireFromString(tt.a)
			b := decimal.RequireFromString(tt.b)
			want := decimal.RequireFromString(tt.want)

			got := Deviation(a, b)
			if !got.Equal(want) {
				t.Errorf("Deviation(%s, %s) = %s, want %s", tt.a, tt.b, got, want)
			}
		})
	}
}

func TestConsensusChecker_Check(t *testing.T) {
	tests := []struct {
		name         string
		lendingPrice string
		perpPrice    string
		wantOK       bool
		wantSide     string
	}{
		{"within threshold", "142.50", "142.80", true, "perp"},
		{"exactly at threshold boundary", "199", "200", true, "perp"},
		{"above threshold", "100", "102", false, "perp"},
		{"lending higher above threshold", "105", "100", false, "lending"},
		{"equal prices", "142.50", "142.50", true, "equal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lending := &fakeLending{markPrice: decimal.RequireFromString(tt.lendingPrice)}
			perp := &fakePerp{markPrice: decimal.RequireFromString(tt.perpPrice)}

			checker := NewConsensusChecker(lending, perp, 0.5, 50, zap.NewNop())
			res, err := checker.Check(context.Background(), "SOL")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v (deviation %s%%)", res.OK, tt.wantOK, res.DeviationPct)
			}
			if res.HigherSide != tt.wantSide {
				t.Errorf("HigherSide = %s, want %s", res.HigherSide, tt.wantSide)
			}
		})
	}
}

func TestConsensusChecker_CheckVenueError(t *testing.T) {
	venueErr := errors.New("oracle unavailable")
	lending := &fakeLending{markErr: venueErr}
	perp := &fakePerp{markPrice: decimal.NewFromInt(100)}

	checker := NewConsensusChecker(lending, perp, 0.5, 50, zap.NewNop())
	_, err := checker.Check(context.Background(), "SOL")
	if err == nil {
		t.Fatal("expected error when one venue is unavailable")
	}
	if !errors.Is(err, venueErr) {
		t.Errorf("expected wrapped venue error, got %v", err)
	}
}

func TestWorstCasePair(t *testing.T) {
	checker := NewConsensusChecker(nil, nil, 0.5, 50, zap.NewNop())

	// 50 bps от 100 = 0.5
	maxBuy, minSell := checker.WorstCasePair(decimal.NewFromInt(100))
	if !maxBuy.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("maxBuy = %s, want 100.5", maxBuy)
	}
	if !minSell.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("minSell = %s, want 99.5", minSell)
	}
}
