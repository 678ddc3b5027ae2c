// Package mcp exposes the askdocs core over the Model Context Protocol:
// ask, ingest_document, metrics, and preview_page tools on stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	aerr "github.com/askdocs/askdocs/internal/errors"
)

// MCP error codes. The -32xxx range follows JSON-RPC conventions.
const (
	// ErrCodeIndexNotReady indicates no usable search index exists yet.
	ErrCodeIndexNotReady = -32001

	// ErrCodeModelUnavailable indicates the embedding or completion
	// service failed or timed out.
	ErrCodeModelUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates the referenced document does not
	// exist in the corpus.
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrDocumentNotFound is the sentinel for a filename with no corpus entry.
var ErrDocumentNotFound = errors.New("document not found")

// RPCError is an MCP protocol error with code and message.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Validation failures
// keep their message; everything else maps by category.
func MapError(err error) *RPCError {
	if err == nil {
		return nil
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, ErrDocumentNotFound) {
		return &RPCError{Code: ErrCodeDocumentNotFound, Message: "Document not found in the corpus."}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RPCError{Code: ErrCodeTimeout, Message: "Request timed out."}
	}
	if errors.Is(err, context.Canceled) {
		return &RPCError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var coreErr *aerr.CoreError
	if errors.As(err, &coreErr) {
		switch aerr.GetCategory(err) {
		case aerr.CategoryValidation:
			return &RPCError{Code: ErrCodeInvalidParams, Message: coreErr.Message}
		case aerr.CategoryIndex:
			return &RPCError{Code: ErrCodeIndexNotReady, Message: coreErr.Message}
		case aerr.CategoryModel:
			return &RPCError{Code: ErrCodeModelUnavailable, Message: coreErr.Message}
		default:
			return &RPCError{Code: ErrCodeInternalError, Message: coreErr.Message}
		}
	}

	return &RPCError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an invalid-parameters error with a
// custom message.
func NewInvalidParamsError(msg string) *RPCError {
	return &RPCError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *RPCError {
	return &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}
