package product

import "fmt"

// ValidationError reports inputs or a written container that do not satisfy
// the product's required attributes. It is never retried.
type ValidationError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid product: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid product %s: %s: %s", e.Path, e.Field, e.Reason)
}

// WriteError reports an I/O failure while producing a product.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
