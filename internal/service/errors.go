package service

import (
	"errors"
	"fmt"
	"time"

	"localrank/internal/repository"
	"localrank/pkg/circuitbreaker"
)

// ValidationError 输入不合法，Message 原样返回给调用方
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// OwnershipError 记录不属于调用方 agency，或 agency 与父记录不一致
type OwnershipError struct {
	Resource string
	ID       string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s does not belong to this agency", e.Resource, e.ID)
}

// ConflictError 资源被并发操作占用或已存在
type ConflictError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// BackendUnavailableError 存储失败或熔断打开；引擎本身不重试
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// isDomainError 业务错误不计入熔断失败
func isDomainError(err error) bool {
	var (
		v *ValidationError
		o *OwnershipError
		c *ConflictError
		n *NotFoundError
	)
	return errors.As(err, &v) || errors.As(err, &o) || errors.As(err, &c) || errors.As(err, &n)
}

// errorKind 用于指标标签
func errorKind(err error) string {
	var (
		v *ValidationError
		o *OwnershipError
		c *ConflictError
		n *NotFoundError
		b *BackendUnavailableError
	)
	switch {
	case errors.As(err, &v):
		return "validation"
	case errors.As(err, &o):
		return "ownership"
	case errors.As(err, &c):
		return "conflict"
	case errors.As(err, &n):
		return "not_found"
	case errors.As(err, &b):
		return "backend_unavailable"
	}
	return "internal"
}

// classify 把存储层错误翻译为引擎错误；领域错误原样透传
func classify(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	var b *BackendUnavailableError
	if errors.As(err, &b) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return &BackendUnavailableError{Op: op, Err: err}
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return &ConflictError{Message: "record already exists"}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "record", ID: op}
	}
	return &BackendUnavailableError{Op: op, Err: err}
}
