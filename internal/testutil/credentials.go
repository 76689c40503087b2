package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/streamgrid/internal/credential"
)

// Call records one request made to FakeCredentials.
type Call struct {
	Op           credential.Op
	Endpoint     string
	RenewalToken string
}

// Reply is a scripted response of FakeCredentials.
type Reply struct {
	Session credential.Session
	Err     error
}

// FakeCredentials is a scripted credential.Service. Replies are consumed in
// order per operation; an exhausted script answers with an error.
type FakeCredentials struct {
	mu      sync.Mutex
	acquire []Reply
	extend  []Reply
	calls   []Call
}

var _ credential.Service = (*FakeCredentials)(nil)

// OnAcquire queues a reply for the next Acquire call.
func (f *FakeCredentials) OnAcquire(s credential.Session, err error) *FakeCredentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquire = append(f.acquire, Reply{Session: s, Err: err})
	return f
}

// OnExtend queues a reply for the next Extend call.
func (f *FakeCredentials) OnExtend(s credential.Session, err error) *FakeCredentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extend = append(f.extend, Reply{Session: s, Err: err})
	return f
}

func (f *FakeCredentials) Acquire(_ context.Context, endpointID string) (credential.Session, error) {
	return f.next(credential.OpAcquire, endpointID, "", &f.acquire)
}

func (f *FakeCredentials) Extend(_ context.Context, endpointID, renewalToken string) (credential.Session, error) {
	return f.next(credential.OpExtend, endpointID, renewalToken, &f.extend)
}

func (f *FakeCredentials) next(op credential.Op, endpoint, token string, script *[]Reply) (credential.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: op, Endpoint: endpoint, RenewalToken: token})

	if len(*script) == 0 {
		return credential.Session{}, &credential.Error{Op: op, Endpoint: endpoint, Err: fmt.Errorf("%w: no scripted reply", credential.ErrRejected)}
	}
	r := (*script)[0]
	*script = (*script)[1:]
	if r.Err != nil {
		return credential.Session{}, &credential.Error{Op: op, Endpoint: endpoint, Err: r.Err}
	}
	return r.Session, nil
}

// Calls returns every request made so far.
func (f *FakeCredentials) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many requests of the given operation were made.
func (f *FakeCredentials) CallCount(op credential.Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}
