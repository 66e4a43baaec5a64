package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

/*
PendingResult defines an object that is returned when calling the RPC asynchronously. It's kind of like a promise as
seen in other languages.
*/
type PendingResult struct {
	request *inflightRequest
}

func newPendingResult(request *inflightRequest) *PendingResult {
	return &PendingResult{
		request: request,
	}
}

/*
GetResultBlocking obtains the result from the client, blocking until the result or an error is available. Callers
must pass a pointer to their data through result. If the run is shutting down, a context cancellation error may be
returned instead.
*/
func (p *PendingResult) GetResultBlocking(result interface{}) error {
	select {
	case <-p.request.Done:
		if p.request.Error != nil {
			return p.request.Error
		}
		if err := json.Unmarshal(p.request.Result, result); err != nil {
			return &DecodeError{Err: err}
		}
		return nil
	case <-p.request.Context.Done():
		return p.request.Context.Err()
	}
}

// DecodeError is returned when a response arrived but could not be decoded into the shape the caller expects. It is
// distinct from a transport error so callers can classify the failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed RPC response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// requestKey defines a struct that can uniquely identify an Ethereum RPC request for request deduplication purposes.
type requestKey struct {
	Method string
	Args   string
}

func makeRequestKey(method string, args ...interface{}) (requestKey, error) {
	serialized, err := json.Marshal(args)
	if err != nil {
		return requestKey{}, err
	}
	return requestKey{Method: method, Args: string(serialized)}, nil
}

// inflightRequest represents an HTTP-JSON request that is currently traversing the network.
type inflightRequest struct {
	// Done is used to signal to each interested caller that the request is completed (possibly with error).
	Done    chan struct{}
	Error   error
	Result  json.RawMessage
	Context context.Context
}
