// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidTargetFormat is returned when a search target string in the
// config is not in 'filename:keyword' or 'filename:keyword:type' format.
type ErrInvalidTargetFormat struct {
	Target string
}

func (e *ErrInvalidTargetFormat) Error() string {
	return fmt.Sprintf("invalid search target format: %q, expected 'filename:keyword[:type]'", e.Target)
}
