// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrInvalidProposal  = errors.New("invalid trade proposal")
	ErrSizing           = errors.New("position sizing failed")
	ErrStaleTransition  = errors.New("stale transition on terminal trade")
	ErrFeedGap          = errors.New("feed gap: bar missing or late")
	ErrDuplicateTrade   = errors.New("trade already recorded in ledger")
	ErrTradeNotFound    = errors.New("trade not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderNotActive   = errors.New("order is not active")
	ErrInvalidAccount   = errors.New("account state is not numeric")
	ErrUnknownSymbol    = errors.New("symbol not tracked")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDataNotFound     = errors.New("data not found")
	ErrDatabaseError    = errors.New("database error")
	ErrInsufficientData = errors.New("insufficient data")
)

// ValidationError represents a rejected trade proposal field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidProposal
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// SizingError reports a proposal whose computed size is not tradeable.
type SizingError struct {
	Equity       float64
	RiskFraction float64
	StopDistance float64
	Size         int64
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing error: size %d (equity: %.2f, risk: %.4f, stop distance: %.5f)",
		e.Size, e.Equity, e.RiskFraction, e.StopDistance)
}

func (e *SizingError) Unwrap() error {
	return ErrSizing
}

// NewSizingError creates a new SizingError.
func NewSizingError(equity, riskFraction, stopDistance float64, size int64) *SizingError {
	return &SizingError{
		Equity:       equity,
		RiskFraction: riskFraction,
		StopDistance: stopDistance,
		Size:         size,
	}
}

// StaleTransitionError reports an attempt to mutate a terminal trade.
// It is logged by the trade manager and never returned to callers.
type StaleTransitionError struct {
	TradeID string
	State   string
	Action  string
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition [%s] %s on %s trade", e.TradeID, e.Action, e.State)
}

func (e *StaleTransitionError) Unwrap() error {
	return ErrStaleTransition
}

// NewStaleTransitionError creates a new StaleTransitionError.
func NewStaleTransitionError(tradeID, state, action string) *StaleTransitionError {
	return &StaleTransitionError{
		TradeID: tradeID,
		State:   state,
		Action:  action,
	}
}

// FeedGapError reports that the synchronization barrier is waiting on a feed.
type FeedGapError struct {
	Symbol  string
	Head    time.Time
	Waiting int
}

func (e *FeedGapError) Error() string {
	if e.Head.IsZero() {
		return fmt.Sprintf("feed gap [%s]: queue empty after %d waits", e.Symbol, e.Waiting)
	}
	return fmt.Sprintf("feed gap [%s]: head %s does not match after %d waits", e.Symbol, e.Head.Format(time.RFC3339), e.Waiting)
}

func (e *FeedGapError) Unwrap() error {
	return ErrFeedGap
}

// NewFeedGapError creates a new FeedGapError.
func NewFeedGapError(symbol string, head time.Time, waiting int) *FeedGapError {
	return &FeedGapError{
		Symbol:  symbol,
		Head:    head,
		Waiting: waiting,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
