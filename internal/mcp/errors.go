// Package mcp implements the Model Context Protocol (MCP) server for CodeIndexMCP.
package mcp

import (
	"context"
	"errors"
	"fmt"

	codeindexerrors "github.com/aman-cerp/codeindex-mcp/internal/errors"
)

// Standard JSON-RPC error codes, used for protocol-level failures that never
// reach the indexing pipeline (unknown tool, malformed params).
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidParams    = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. IndexError values carry
// the stable numeric code assigned by internal/errors.CodeForCategory; any
// other error (protocol-level, context cancellation) falls back to the
// standard JSON-RPC error codes.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var idxErr *codeindexerrors.IndexError
	if errors.As(err, &idxErr) {
		return mapIndexError(idxErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: codeindexerrors.CodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: codeindexerrors.CodeCancelled, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Resource not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

// mapIndexError converts an IndexError to an MCPError, preserving the
// category's stable numeric code and appending any suggestion to the message.
func mapIndexError(e *codeindexerrors.IndexError) *MCPError {
	message := e.Message
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s %s", e.Message, e.Suggestion)
	}
	return &MCPError{
		Code:    e.Code(),
		Message: message,
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}
