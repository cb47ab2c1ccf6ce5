// Package tool defines tool descriptors, the handler contract, and the
// registry that maps tool names to registered callables. Parameter schemas
// are compiled to JSON Schema at registration time so the dispatcher can
// validate arguments without re-deriving schemas per call.
package tool
