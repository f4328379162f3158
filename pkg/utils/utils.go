// Package utils provides ID generation and small numeric helpers.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string {
	return GenerateID("ord")
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// GenerateSignalID generates a unique signal ID.
func GenerateSignalID() string {
	return GenerateID("sig")
}

// CalculateMean calculates the mean of decimal values.
func CalculateMean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// CalculateStdDev calculates standard deviation of decimal values.
func CalculateStdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	mean := CalculateMean(values)

	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// EMA calculates an exponential moving average over a decimal stream.
type EMA struct {
	period     int
	multiplier decimal.Decimal
	current    decimal.Decimal
	count      int
}

// NewEMA creates a new EMA calculator.
func NewEMA(period int) *EMA {
	mult := decimal.NewFromFloat(2.0 / float64(period+1))
	return &EMA{
		period:     period,
		multiplier: mult,
	}
}

// Add adds a value and returns the current EMA.
func (e *EMA) Add(value decimal.Decimal) decimal.Decimal {
	e.count++

	if e.count == 1 {
		e.current = value
		return e.current
	}

	e.current = value.Sub(e.current).Mul(e.multiplier).Add(e.current)
	return e.current
}

// Current returns the current EMA value.
func (e *EMA) Current() decimal.Decimal {
	return e.current
}

// SMA calculates a simple moving average over a decimal stream.
type SMA struct {
	period int
	values []decimal.Decimal
	sum    decimal.Decimal
}

// NewSMA creates a new SMA calculator.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		values: make([]decimal.Decimal, 0, period),
	}
}

// Add adds a value and returns the current SMA.
func (s *SMA) Add(value decimal.Decimal) decimal.Decimal {
	s.values = append(s.values, value)
	s.sum = s.sum.Add(value)

	if len(s.values) > s.period {
		s.sum = s.sum.Sub(s.values[0])
		s.values = s.values[1:]
	}

	return s.sum.Div(decimal.NewFromInt(int64(len(s.values))))
}

// Current returns the current SMA value.
func (s *SMA) Current() decimal.Decimal {
	if len(s.values) == 0 {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(len(s.values))))
}
