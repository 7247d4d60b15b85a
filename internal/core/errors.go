// SPDX-FileCopyrightText: Copyright 2026 Nexus Authors
// SPDX-License-Identifier: Apache-2.0

package core

import "errors"

// Error kinds used as sentinels throughout Nexus, checked with errors.Is;
// wrapping errors add the specifics (which upstream, which tool, ...).
var (
	// Transport errors.
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrMessageSendFailed  = errors.New("message send failed")
	ErrMessageRecvFailed  = errors.New("message receive failed")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrReconnectionFailed = errors.New("reconnection failed")
	ErrNotConnected       = errors.New("not connected")
	ErrTimeout            = errors.New("timeout")
	ErrRPC                = errors.New("rpc error")
	ErrQueueFull          = errors.New("queue full")

	// Capability errors.
	ErrInvalidTool              = errors.New("invalid tool")
	ErrInvalidPrompt            = errors.New("invalid prompt")
	ErrInvalidResource          = errors.New("invalid resource")
	ErrDuplicateTool            = errors.New("duplicate tool")
	ErrDuplicatePrompt          = errors.New("duplicate prompt")
	ErrDuplicateResource        = errors.New("duplicate resource")
	ErrToolNotFound             = errors.New("tool not found")
	ErrPromptNotFound           = errors.New("prompt not found")
	ErrServerNotFound           = errors.New("server not found")
	ErrDiscoveryFailed          = errors.New("discovery failed")
	ErrToolsDiscoveryFailed     = errors.New("tools discovery failed")
	ErrPromptsDiscoveryFailed   = errors.New("prompts discovery failed")
	ErrResourcesDiscoveryFailed = errors.New("resources discovery failed")

	// Virtual server errors.
	ErrPortUnavailable    = errors.New("port unavailable")
	ErrUnknownSource      = errors.New("unknown source")
	ErrNoCapabilities     = errors.New("startup failed: no capabilities")
	ErrInstanceNotRunning = errors.New("instance not running")
	ErrCapabilityUnmapped = errors.New("capability unmapped")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// RetryableError wraps an error with the "retryable" flag carried by
// every transport error.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryable wraps err, marking whether the caller may retry the
// operation that produced it.
func NewRetryable(err error, retryable bool) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Retryable: retryable}
}

// IsRetryable reports whether err (or anything it wraps) was marked
// retryable via NewRetryable. Errors not wrapped this way are treated as
// non-retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
