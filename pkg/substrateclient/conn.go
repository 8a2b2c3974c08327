/**
 * @description
 * Connection management for the target chain. A single ConnManager instance is
 * injected into everything that needs chain access; it replaces hidden
 * module-level "connection failed" flags with an explicit state machine:
 *
 *   Disconnected -> Connecting -> Connected
 *                       |
 *                       v  (all endpoints failed)
 *                  CoolingDown -> Disconnected (after the cooldown deadline)
 *
 * Reconnection is lazy: nothing dials until an operation needs the
 * connection. Exactly one dial attempt is in flight at a time; concurrent
 * callers wait on that same attempt instead of racing their own. While
 * CoolingDown, Acquire fails immediately with ErrCoolingDown so a dead
 * cluster is not hammered.
 *
 * @dependencies
 * - github.com/centrifuge/go-substrate-rpc-client/v4: Substrate RPC API.
 */

package substrateclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateCoolingDown
)

// chainConn is an established connection plus the metadata fetched over it.
type chainConn struct {
	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
}

// dialFunc establishes a connection to one endpoint. Injectable for tests.
type dialFunc func(ctx context.Context, url string) (*chainConn, error)

type connAttempt struct {
	done chan struct{}
	conn *chainConn
	err  error
}

// ConnManager owns the shared target-chain connection.
type ConnManager struct {
	endpoints   []string
	dialTimeout time.Duration
	cooldown    time.Duration
	dial        dialFunc
	now         func() time.Time

	mu            sync.Mutex
	state         connState
	conn          *chainConn
	cooldownUntil time.Time
	attempt       *connAttempt
}

// NewConnManager creates a manager over the candidate endpoints, tried in
// order on every dial attempt.
func NewConnManager(endpoints []string, dialTimeout, cooldown time.Duration) *ConnManager {
	return &ConnManager{
		endpoints:   endpoints,
		dialTimeout: dialTimeout,
		cooldown:    cooldown,
		dial:        dialEndpoint,
		now:         time.Now,
	}
}

// Acquire returns the shared connection, dialing lazily if needed. During a
// cooldown window it fails fast with ErrCoolingDown.
func (m *ConnManager) Acquire(ctx context.Context) (*chainConn, error) {
	m.mu.Lock()
	if m.state == stateConnected {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}
	if m.state == stateCoolingDown {
		if m.now().Before(m.cooldownUntil) {
			m.mu.Unlock()
			return nil, ErrCoolingDown
		}
		m.state = stateDisconnected
	}
	if m.attempt == nil {
		m.attempt = &connAttempt{done: make(chan struct{})}
		m.state = stateConnecting
		go m.runAttempt(m.attempt)
	}
	attempt := m.attempt
	m.mu.Unlock()

	select {
	case <-attempt.done:
	case <-ctx.Done():
		return nil, &ConnectivityError{Op: "connect", Err: ctx.Err()}
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	return attempt.conn, nil
}

// Invalidate drops the connection after an operation-level transport failure
// so the next Acquire redials. The conn argument guards against a caller
// invalidating a connection that has already been replaced.
func (m *ConnManager) Invalidate(conn *chainConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateConnected && m.conn == conn {
		m.state = stateDisconnected
		m.conn = nil
	}
}

func (m *ConnManager) runAttempt(attempt *connAttempt) {
	var lastErr error
	for _, url := range m.endpoints {
		ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
		conn, err := m.dial(ctx, url)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.state = stateConnected
			m.conn = conn
			m.attempt = nil
			m.mu.Unlock()

			attempt.conn = conn
			close(attempt.done)
			log.Printf("level=info component=substrate msg=\"connected\" endpoint=%s", url)
			return
		}
		lastErr = err
		log.Printf("level=warn component=substrate msg=\"endpoint dial failed\" endpoint=%s err=%v", url, err)
	}

	m.mu.Lock()
	m.state = stateCoolingDown
	m.cooldownUntil = m.now().Add(m.cooldown)
	m.attempt = nil
	m.mu.Unlock()

	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	attempt.err = &ConnectivityError{Op: "connect", Err: lastErr}
	close(attempt.done)
	log.Printf("level=warn component=substrate msg=\"all endpoints failed; cooling down\" cooldown=%s err=%v", m.cooldown, lastErr)
}

// dialEndpoint establishes the RPC connection and fetches runtime metadata.
// NewSubstrateAPI has no context parameter, so the dial runs on its own
// goroutine and is abandoned (connection closed by GC of the failed client)
// when the deadline passes.
func dialEndpoint(ctx context.Context, url string) (*chainConn, error) {
	type result struct {
		conn *chainConn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		api, err := gsrpc.NewSubstrateAPI(url)
		if err != nil {
			ch <- result{err: err}
			return
		}
		meta, err := api.RPC.State.GetMetadataLatest()
		if err != nil {
			ch <- result{err: fmt.Errorf("fetch metadata: %w", err)}
			return
		}
		ch <- result{conn: &chainConn{api: api, meta: meta}}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("dial %s: %w", url, ctx.Err())
	}
}
