package service

import (
	"errors"
	"fmt"

	"github.com/yeisme/syncvault/pkg/rule"
)

// 编排层错误，调用方用 errors.Is 判断类别.
var (
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidParts    = errors.New("invalid parts")
	ErrUpstream        = errors.New("upstream failure")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Code 返回错误类别名，未知错误归为 UpstreamFailure.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "QuotaExceeded"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrInvalidParts):
		return "InvalidParts"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	default:
		return "UpstreamFailure"
	}
}

func upstream(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, what, err)
}

// validate 用 rule 校验请求体，失败时列出字段.
func validate(v any) error {
	err := rule.ValidateStruct(v)
	if err == nil {
		return nil
	}

	if fields := rule.Errors(err); fields != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, fields)
	}

	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}
