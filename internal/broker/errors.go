package broker

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDeal      = errors.New("unknown deal")
	ErrUnknownOrder     = errors.New("unknown order")
	ErrDealClosed       = errors.New("deal is closed")
	ErrNoPosition       = errors.New("deal has no open quantity")
	ErrFraction         = errors.New("fraction must be in (0, 1]")
	ErrFractionSum      = errors.New("fractions must sum to 1")
	ErrDirection        = errors.New("price on the wrong side of the market")
	ErrUnprotectedEntry = errors.New("entry not protected by stop")
	ErrOversizeClose    = errors.New("close exceeds open quantity")
	ErrNoMarketPrice    = errors.New("no current bar")
	ErrQuantity         = errors.New("invalid quantity")
	ErrPrice            = errors.New("invalid price")
	ErrBarOrder         = errors.New("bar out of order")
)

// ValidationError 在下单/改单入口被捕获，写入结果而不是向上抛出。
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(op string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Err: err, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation 判断 err 是否为校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
