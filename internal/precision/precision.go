// Package precision quantizes prices and quantities to exchange step sizes.
package precision

import (
	"math"

	"github.com/shopspring/decimal"
)

// changeTolerance 是判定量化前后数值"发生变化"的相对步长容差。
const changeTolerance = 1e-9

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

// Dec 将 float64 转为 decimal，NaN/Inf 视为 0。
func Dec(val float64) decimal.Decimal { return decFromFloat(val) }

// FloorToPrecision 返回 floor(value/step)*step；step<=0 时原样返回。
func FloorToPrecision(value, step float64) float64 {
	return FloorDec(decFromFloat(value), step).InexactFloat64()
}

// RoundToPrecision 返回 round(value/step)*step，半步远离零取整。
func RoundToPrecision(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decFromFloat(step)
	return decFromFloat(value).Div(s).Round(0).Mul(s).InexactFloat64()
}

// FloorDec 是 FloorToPrecision 的 decimal 版本，供分配计算避免来回转换。
func FloorDec(value decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return value
	}
	s := decFromFloat(step)
	return value.Div(s).Floor().Mul(s)
}

// Changed 报告量化结果与原值的差是否超过浮点容差。
func Changed(original, quantized, step float64) bool {
	tol := changeTolerance
	if step > 0 {
		tol = step * changeTolerance
	}
	return math.Abs(original-quantized) > tol
}

// Adjustment 描述一次改变了调用方输入的量化。
type Adjustment struct {
	Field    string
	Original float64
	Value    float64
}

// Quantizer 按交易对的步长量化数量与价格，并记录被改动的字段。
type Quantizer struct {
	AmountStep float64
	PriceStep  float64

	adjustments []Adjustment
}

func NewQuantizer(amountStep, priceStep float64) *Quantizer {
	return &Quantizer{AmountStep: amountStep, PriceStep: priceStep}
}

// Quantity 向下取整到数量步长。
func (q *Quantizer) Quantity(field string, v float64) float64 {
	out := FloorToPrecision(v, q.AmountStep)
	q.note(field, v, out, q.AmountStep)
	return out
}

// Price 四舍五入到价格步长；0 表示未设置，原样返回。
func (q *Quantizer) Price(field string, v float64) float64 {
	if v == 0 {
		return 0
	}
	out := RoundToPrecision(v, q.PriceStep)
	q.note(field, v, out, q.PriceStep)
	return out
}

func (q *Quantizer) note(field string, original, value, step float64) {
	if Changed(original, value, step) {
		q.adjustments = append(q.adjustments, Adjustment{Field: field, Original: original, Value: value})
	}
}

// Adjustments 返回并清空累计的改动记录。
func (q *Quantizer) Adjustments() []Adjustment {
	out := q.adjustments
	q.adjustments = nil
	return out
}
