package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/reclass-go/reclass/internal/entity"
)

// countingBackend counts calls and blocks the first GetNode call on a gate
// so a test can force a second concurrent call to arrive while it's still
// in flight.
type countingBackend struct {
	nodeCalls  int32
	classCalls int32
	enumCalls  int32
	gate       chan struct{} // closed to release the first in-flight GetNode call
	firstCall  chan struct{} // closed once the first GetNode call has started
	once       sync.Once
}

func (b *countingBackend) EnumerateNodes(ctx context.Context) ([]string, error) {
	atomic.AddInt32(&b.enumCalls, 1)
	return []string{"a"}, nil
}

func (b *countingBackend) GetNode(ctx context.Context, name string) (*entity.Entity, error) {
	n := atomic.AddInt32(&b.nodeCalls, 1)
	if n == 1 && b.gate != nil {
		b.once.Do(func() { close(b.firstCall) })
		<-b.gate
	}
	return entity.New(":", name, "test://"+name, ""), nil
}

func (b *countingBackend) GetClass(ctx context.Context, name, env string) (*entity.Entity, error) {
	atomic.AddInt32(&b.classCalls, 1)
	return entity.New(":", name, "test://"+name, ""), nil
}

func TestGetNodeMemoizesSequentialCalls(t *testing.T) {
	real := &countingBackend{}
	c := New(real)

	for i := 0; i < 3; i++ {
		if _, err := c.GetNode(context.Background(), "web01"); err != nil {
			t.Fatal(err)
		}
	}
	if real.nodeCalls != 1 {
		t.Errorf("nodeCalls = %d, want 1", real.nodeCalls)
	}
}

func TestGetNodeConcurrentCallsCoalesce(t *testing.T) {
	real := &countingBackend{
		gate:      make(chan struct{}),
		firstCall: make(chan struct{}),
	}
	c := New(real)

	var wg sync.WaitGroup
	results := make([]*entity.Entity, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		e, _ := c.GetNode(context.Background(), "web01")
		results[0] = e
	}()
	go func() {
		defer wg.Done()
		<-real.firstCall // ensure this call arrives while the first is in flight
		e, _ := c.GetNode(context.Background(), "web01")
		results[1] = e
	}()

	close(real.gate) // release the first call once both goroutines are underway
	wg.Wait()

	if real.nodeCalls != 1 {
		t.Errorf("nodeCalls = %d, want 1 (second caller should block on the first, not reload)", real.nodeCalls)
	}
	if results[0] != results[1] {
		t.Error("both callers should observe the same cached Entity pointer")
	}
}

func TestGetClassMemoizesByNameAndEnvironment(t *testing.T) {
	real := &countingBackend{}
	c := New(real)

	if _, err := c.GetClass(context.Background(), "role.web", "base"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetClass(context.Background(), "role.web", "base"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetClass(context.Background(), "role.web", "staging"); err != nil {
		t.Fatal(err)
	}
	if real.classCalls != 2 {
		t.Errorf("classCalls = %d, want 2 (base cached, staging distinct)", real.classCalls)
	}
}

func TestEnumerateNodesMemoizes(t *testing.T) {
	real := &countingBackend{}
	c := New(real)
	for i := 0; i < 3; i++ {
		if _, err := c.EnumerateNodes(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if real.enumCalls != 1 {
		t.Errorf("enumCalls = %d, want 1", real.enumCalls)
	}
}
