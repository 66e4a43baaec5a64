package rpc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/net/context"
)

const maxRetries = 3

/*
ClientPool wraps a fixed-size pool of JSON-RPC clients dialed against a single endpoint. Requests are distributed
round-robin across the pool. Identical requests issued while one is already traversing the network are deduplicated:
they attach to the in-flight request and share its single result. A completed request is removed from the in-flight
registry, so a failed fetch never poisons a later retry of the same key.
*/
type ClientPool struct {
	rpcClients       []*rpc.Client
	currentClientIdx int
	clientLock       sync.Mutex

	inflightRequests map[requestKey]*inflightRequest
	inflightLock     sync.Mutex

	endpoint       string
	requestTimeout time.Duration
	maxRetries     int
}

// NewClientPool dials poolSize clients against the given endpoint. Each request issued through the pool is bounded
// by requestTimeout per attempt.
func NewClientPool(endpoint string, poolSize uint, requestTimeout time.Duration) (*ClientPool, error) {
	pool := &ClientPool{
		rpcClients:       make([]*rpc.Client, poolSize),
		inflightRequests: make(map[requestKey]*inflightRequest),
		endpoint:         endpoint,
		requestTimeout:   requestTimeout,
		maxRetries:       maxRetries,
	}

	// dial out
	for i := uint(0); i < poolSize; i++ {
		client, err := rpc.Dial(endpoint)
		if err != nil {
			return nil, err
		}
		pool.rpcClients[i] = client
	}

	return pool, nil
}

// ExecuteRequestBlocking issues the given request and blocks until its result can be decoded into result, or an
// error occurs.
func (c *ClientPool) ExecuteRequestBlocking(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	pending, err := c.ExecuteRequestAsync(ctx, method, args...)
	if err != nil {
		return err
	}
	return pending.GetResultBlocking(result)
}

// ExecuteRequestAsync issues the given request without waiting for its result. If an identical request is already in
// flight, the returned PendingResult attaches to it instead of issuing a duplicate network call.
func (c *ClientPool) ExecuteRequestAsync(ctx context.Context, method string, args ...interface{}) (*PendingResult, error) {
	key, err := makeRequestKey(method, args...)
	if err != nil {
		return nil, err
	}

	// check for in-flight requests
	c.inflightLock.Lock()
	if inflight, exists := c.inflightRequests[key]; exists {
		c.inflightLock.Unlock()
		return newPendingResult(inflight), nil
	}

	inflight := &inflightRequest{
		Done:    make(chan struct{}),
		Context: ctx,
	}
	c.inflightRequests[key] = inflight
	c.inflightLock.Unlock()
	client := c.getClient()

	go c.launchRequest(client, key, inflight, method, args...)
	return newPendingResult(inflight), nil
}

func (c *ClientPool) getClient() *rpc.Client {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	client := c.rpcClients[c.currentClientIdx]
	c.currentClientIdx = (c.currentClientIdx + 1) % len(c.rpcClients)

	return client
}

func (c *ClientPool) launchRequest(
	client *rpc.Client,
	key requestKey,
	request *inflightRequest,
	method string,
	args ...interface{}) {
	// Broadcast completion, then drop the registry entry so the next read of this key issues a fresh fetch.
	// Memoization of successful results belongs to the state cache above this layer.
	defer func() {
		close(request.Done)
		c.inflightLock.Lock()
		delete(c.inflightRequests, key)
		c.inflightLock.Unlock()
	}()

	var err error
	var result json.RawMessage
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(request.Context, c.requestTimeout)
		err = client.CallContext(attemptCtx, &result, method, args...)
		cancel()
		if err == nil {
			request.Result = result
			return
		}
		// don't keep retrying if the run itself was cancelled
		if request.Context.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	request.Error = err
}
