/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the client can surface. One tagged error
// value instead of a type per failure mode.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindAuth       ErrorKind = "auth"
	KindPermission ErrorKind = "permission"
	KindRateLimit  ErrorKind = "rate_limit"
	KindRemote     ErrorKind = "remote"
)

type APIError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter int // seconds, set for rate-limit errors
	Messages   []string
	Err        error
}

func (e *APIError) Error() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "jira: %s", e.Kind)
	if e.StatusCode > 0 { fmt.Fprintf(b, " status=%d", e.StatusCode) }
	if e.Kind == KindRateLimit && e.RetryAfter > 0 { fmt.Fprintf(b, " retry_after=%ds", e.RetryAfter) }
	if len(e.Messages) > 0 { fmt.Fprintf(b, ": %s", strings.Join(e.Messages, "; ")) }
	if e.Err != nil { fmt.Fprintf(b, ": %v", e.Err) }
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf returns the error kind, or "" for non-client errors.
func KindOf(err error) ErrorKind {
	var ae *APIError
	if errors.As(err, &ae) { return ae.Kind }
	return ""
}

func connErr(err error, format string, args ...any) *APIError {
	return &APIError{Kind: KindConnection, Messages: []string{fmt.Sprintf(format, args...)}, Err: err}
}
