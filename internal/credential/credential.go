// Package credential models time-limited stream access grants and the remote
// service that issues and extends them.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is one grant of access to a remote stream. A session is never
// mutated; renewal produces a new one.
type Session struct {
	BaseLocation string
	AccessToken  string
	RenewalToken string
	ExpiresAt    time.Time
}

// Location is the transport location for the session. Both parts are passed
// through unchanged.
func (s Session) Location() string {
	return s.BaseLocation + "?auth=" + s.AccessToken
}

// TTL returns how long the session remains valid after now.
func (s Session) TTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Service issues and extends sessions. Implementations must be safe to call
// from any goroutine and report every failure as a returned error.
type Service interface {
	Acquire(ctx context.Context, endpointID string) (Session, error)
	Extend(ctx context.Context, endpointID, renewalToken string) (Session, error)
}

// Op names the service operation that failed.
type Op string

const (
	OpAcquire Op = "acquire"
	OpExtend  Op = "extend"
)

// ErrRejected is wrapped by errors the remote service reported explicitly,
// as opposed to transport failures and timeouts.
var ErrRejected = errors.New("rejected by credential service")

// Error reports that the credential service did not produce a session.
type Error struct {
	Op       Op
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential %s for %q: %v", e.Op, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
