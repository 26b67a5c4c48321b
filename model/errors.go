package model

import "fmt"

// ConditionTypeMismatchError marks a numeric operator applied to a non-numeric
// value. It fails the single condition, never the whole evaluation.
type ConditionTypeMismatchError struct {
	Field ConditionField
	Value any
}

func (e ConditionTypeMismatchError) Error() string {
	return fmt.Sprintf("condition field %s: value %v is not numeric", e.Field, e.Value)
}

// StructuralValidationError is fatal at activation time; the workflow or rule
// never runs.
type StructuralValidationError struct {
	Message string
}

func (e StructuralValidationError) Error() string {
	return fmt.Sprintf("structural validation: %s", e.Message)
}

// NodeExecutionError wraps a node failure. Retryable errors are retried with
// bounded attempts before failing the run; non-retryable errors fail it
// immediately.
type NodeExecutionError struct {
	NodeId    string
	Retryable bool
	Cause     error
}

func (e NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s execution failed: %v", e.NodeId, e.Cause)
}

func (e NodeExecutionError) Unwrap() error {
	return e.Cause
}

// DeliveryError is a webhook or platform send failure. It is handled entirely
// by the dispatcher's backoff policy and never fails a workflow run by itself.
type DeliveryError struct {
	DeliveryId string
	StatusCode int
	Cause      error
}

func (e DeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("delivery %s failed: %v", e.DeliveryId, e.Cause)
	}
	return fmt.Sprintf("delivery %s failed with status %d", e.DeliveryId, e.StatusCode)
}

func (e DeliveryError) Unwrap() error {
	return e.Cause
}
