package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest    = errors.New("invalid signal generation request")
	ErrGenerationTimeout = errors.New("signal generation timed out")
	ErrBackpressure      = errors.New("queue is full")
	ErrShuttingDown      = errors.New("processor is shutting down")
	ErrStrategyNotFound  = errors.New("strategy not found")
)

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	ErrorValidation ErrorKind = "validation"
	ErrorTimeout    ErrorKind = "timeout"
	ErrorConflict   ErrorKind = "conflict"
	ErrorProcessing ErrorKind = "processing"
)

// GenerationError is a structured error carried inside a SignalGenerationResult.
type GenerationError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *GenerationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError wraps err with a kind and stage.
func NewGenerationError(kind ErrorKind, stage string, err error) GenerationError {
	return GenerationError{Kind: kind, Stage: stage, Message: err.Error(), Err: err}
}
