package market

import (
	"fmt"
	"strings"
)

// SymbolSpec 描述单个交易对的步长与手续费。
type SymbolSpec struct {
	Symbol          string  `json:"symbol"`
	PrecisionAmount float64 `json:"precision_amount"`
	PrecisionPrice  float64 `json:"precision_price"`
	FeeTaker        float64 `json:"fee_taker"`
	FeeMaker        float64 `json:"fee_maker"`
}

func (s SymbolSpec) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if s.PrecisionAmount <= 0 {
		return fmt.Errorf("%s: precision_amount 必须 > 0", s.Symbol)
	}
	if s.PrecisionPrice <= 0 {
		return fmt.Errorf("%s: precision_price 必须 > 0", s.Symbol)
	}
	if s.FeeTaker < 0 || s.FeeMaker < 0 {
		return fmt.Errorf("%s: 手续费不能为负", s.Symbol)
	}
	return nil
}

// NormalizeSymbol 统一为大写、去掉分隔符，例如 btc/usdt -> BTCUSDT。
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
