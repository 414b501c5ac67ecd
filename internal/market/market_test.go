package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol(" btc/usdt "))
	assert.Equal(t, "ETHUSDT", NormalizeSymbol("eth-usdt"))
}

func TestSymbolSpecValidate(t *testing.T) {
	ok := SymbolSpec{Symbol: "BTCUSDT", PrecisionAmount: 0.001, PrecisionPrice: 0.1}
	tests := []struct {
		name    string
		mutate  func(s *SymbolSpec)
		wantErr bool
	}{
		{name: "valid", mutate: func(*SymbolSpec) {}},
		{name: "empty symbol", mutate: func(s *SymbolSpec) { s.Symbol = "" }, wantErr: true},
		{name: "zero amount step", mutate: func(s *SymbolSpec) { s.PrecisionAmount = 0 }, wantErr: true},
		{name: "zero price step", mutate: func(s *SymbolSpec) { s.PrecisionPrice = 0 }, wantErr: true},
		{name: "negative fee", mutate: func(s *SymbolSpec) { s.FeeMaker = -0.1 }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := ok
			tc.mutate(&spec)
			assert.Equal(t, tc.wantErr, spec.Validate() != nil)
		})
	}
}

func TestCandleValidate(t *testing.T) {
	good := Candle{OpenTime: 1, Open: 10, High: 12, Low: 9, Close: 11}
	assert.NoError(t, good.Validate())

	bad := good
	bad.High = 8
	assert.Error(t, bad.Validate())

	bad = good
	bad.Close = 13
	assert.Error(t, bad.Validate())

	bad = good
	bad.Low = 0
	assert.Error(t, bad.Validate())
}
