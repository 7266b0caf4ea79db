// Package errors provides the error taxonomy shared by the newsletter service.
//
// Each kind embeds base so that the message and the wrapped cause are
// rendered the same way everywhere, and errors.Is / errors.As keep working
// through the chain.
package errors

import "fmt"

type base struct {
	message string
	err     error
}

func (b base) error() string {
	if b.err == nil {
		return b.message
	}
	return fmt.Sprintf("%s: %v", b.message, b.err)
}

// Unwrap exposes the underlying error to support errors.Is / errors.As.
func (b base) Unwrap() error {
	return b.err
}
