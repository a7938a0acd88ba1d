package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNoChain              = errors.New("no rule chain resolvable")
	ErrDuplicateRuleInChain = errors.New("rule already in chain")
	ErrInvalidOrder         = errors.New("duplicate execution order")
	ErrConfiguration        = errors.New("configuration error")
	ErrSignalUnavailable    = errors.New("signal unavailable")
	ErrActionDispatch       = errors.New("action dispatch failure")
	ErrCriticalRule         = errors.New("critical rule failure")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrActionSuppressed     = errors.New("action suppressed by group state")
)

// ConfigurationError is a malformed rule, condition or action definition
type ConfigurationError struct {
	RuleID  int64
	Message string
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(ruleID int64, msg string) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Message: msg}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %d: %s", e.RuleID, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// SignalUnavailableError is a failed keyword or NLP lookup
type SignalUnavailableError struct {
	Signal string
	Err    error
}

func (e *SignalUnavailableError) Error() string {
	return fmt.Sprintf("%s signal unavailable: %v", e.Signal, e.Err)
}

func (e *SignalUnavailableError) Unwrap() []error { return []error{ErrSignalUnavailable, e.Err} }

// ActionDispatchError is a failed external reply or forward
type ActionDispatchError struct {
	Kind ActionKind
	Err  error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failed: %v", e.Kind, e.Err)
}

func (e *ActionDispatchError) Unwrap() []error { return []error{ErrActionDispatch, e.Err} }

// CriticalRuleError aborts a chain run
type CriticalRuleError struct {
	RuleID int64
	Err    error
}

func (e *CriticalRuleError) Error() string {
	return fmt.Sprintf("critical rule %d failed: %v", e.RuleID, e.Err)
}

func (e *CriticalRuleError) Unwrap() []error { return []error{ErrCriticalRule, e.Err} }

// StorageError is a failed log or counter write
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }
