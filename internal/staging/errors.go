package staging

import "fmt"

// WriteError reports a failure to stage a buffer.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a failure to read a staged buffer back.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read staged %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
