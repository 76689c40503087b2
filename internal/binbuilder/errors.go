package binbuilder

import (
	"errors"
	"fmt"
)

// ErrTornDown is returned by operations on a graph that has already been
// torn down by ReportFailure.
var ErrTornDown = errors.New("graph torn down")

// ConstructionError reports that a node could not be created, configured or
// inserted into the graph.
type ConstructionError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("cannot construct %s node %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// NotFoundError reports a reference to a node or port that does not exist.
type NotFoundError struct {
	// What is "node" or "port".
	What string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Name)
}

// LinkError reports that the runtime refused to connect two ports.
type LinkError struct {
	From string
	To   string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("cannot link %s to %s: %v", e.From, e.To, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// IsFatal reports whether err must tear down the graph it was raised in.
func IsFatal(err error) bool {
	var (
		ce *ConstructionError
		nf *NotFoundError
		le *LinkError
	)
	return errors.As(err, &ce) || errors.As(err, &nf) || errors.As(err, &le)
}
