package substrateclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func managerWithDial(dial dialFunc) *ConnManager {
	m := NewConnManager([]string{"ws://primary:9944", "ws://fallback:9944"}, time.Second, 30*time.Second)
	m.dial = dial
	return m
}

func TestAcquireDialsLazilyAndCaches(t *testing.T) {
	var dials int32
	conn := &chainConn{}
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		atomic.AddInt32(&dials, 1)
		return conn, nil
	})

	for i := 0; i < 3; i++ {
		got, err := m.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}
		if got != conn {
			t.Fatal("expected the shared connection")
		}
	}
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Fatalf("expected a single dial, got %d", n)
	}
}

func TestAcquireFallsBackToSecondEndpoint(t *testing.T) {
	conn := &chainConn{}
	m := managerWithDial(func(_ context.Context, url string) (*chainConn, error) {
		if url == "ws://primary:9944" {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	})

	got, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if got != conn {
		t.Fatal("expected the fallback connection")
	}
}

func TestAcquireEntersCooldownWhenAllEndpointsFail(t *testing.T) {
	var dials int32
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("connection refused")
	})

	base := time.Now()
	current := base
	var mu sync.Mutex
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	_, err := m.Acquire(context.Background())
	if !IsConnectivity(err) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if n := atomic.LoadInt32(&dials); n != 2 {
		t.Fatalf("expected both endpoints tried, got %d dials", n)
	}

	// Inside the cooldown window: fail fast, no new dials.
	_, err = m.Acquire(context.Background())
	if !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown, got %v", err)
	}
	if n := atomic.LoadInt32(&dials); n != 2 {
		t.Fatalf("cooldown must suppress dialing, got %d dials", n)
	}

	// Past the deadline: dialing resumes.
	mu.Lock()
	current = base.Add(31 * time.Second)
	mu.Unlock()
	_, err = m.Acquire(context.Background())
	if errors.Is(err, ErrCoolingDown) {
		t.Fatal("cooldown expiry must allow a new attempt")
	}
	if n := atomic.LoadInt32(&dials); n != 4 {
		t.Fatalf("expected a fresh round of dials, got %d", n)
	}
}

func TestConcurrentAcquireSharesOneAttempt(t *testing.T) {
	var dials int32
	release := make(chan struct{})
	conn := &chainConn{}
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		atomic.AddInt32(&dials, 1)
		<-release
		return conn, nil
	})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Acquire(context.Background())
		}(i)
	}

	// Let all callers queue up on the single in-flight attempt.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d got error: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Fatalf("expected one shared dial, got %d", n)
	}
}

func TestAcquireHonorsContextWhileDialing(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		<-block
		return &chainConn{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx)
	if !IsConnectivity(err) {
		t.Fatalf("expected connectivity error on context expiry, got %v", err)
	}
}

func TestInvalidateForcesRedial(t *testing.T) {
	var dials int32
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		atomic.AddInt32(&dials, 1)
		return &chainConn{}, nil
	})

	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	m.Invalidate(first)

	second, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after invalidate returned error: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh connection after invalidate")
	}
	if n := atomic.LoadInt32(&dials); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
}

func TestInvalidateIgnoresStaleConnection(t *testing.T) {
	var dials int32
	m := managerWithDial(func(context.Context, string) (*chainConn, error) {
		atomic.AddInt32(&dials, 1)
		return &chainConn{}, nil
	})

	first, _ := m.Acquire(context.Background())
	m.Invalidate(first)
	second, _ := m.Acquire(context.Background())

	// Invalidating the already-replaced connection must not drop the live one.
	m.Invalidate(first)

	third, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if third != second {
		t.Fatal("stale invalidate must not disturb the live connection")
	}
	if n := atomic.LoadInt32(&dials); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
}
