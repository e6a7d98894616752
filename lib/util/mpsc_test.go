package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests push and consume in order for a single producer
func TestBasicOperations(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Discard()

	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if val != i {
				t.Errorf("Expected %d, got %v", i, val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestConcurrentProducers verifies that every item arrives exactly once
func TestConcurrentProducers(t *testing.T) {
	q := NewMPSC[int]()
	defer q.Discard()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	done := make(chan map[int]int)
	go func() {
		seen := make(map[int]int, totalItems)
		for len(seen) < totalItems {
			select {
			case val := <-q.Recv():
				seen[val]++
			case <-time.After(2 * time.Second):
				done <- seen
				return
			}
		}
		done <- seen
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push(base + i) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	seen := <-done
	if len(seen) != totalItems {
		t.Fatalf("Received %d distinct items, want %d", len(seen), totalItems)
	}
	for val, count := range seen {
		if count != 1 {
			t.Errorf("Item %d received %d times", val, count)
		}
	}
}

// TestCloseDeliversRemaining tests that Close keeps queued items and then closes the channel
func TestCloseDeliversRemaining(t *testing.T) {
	q := NewMPSC[string]()

	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Error("Push after Close should return false")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case v, ok := <-q.Recv():
			if !ok {
				if len(got) != 2 || got[0] != "a" || got[1] != "b" {
					t.Errorf("Got %v, want [a b]", got)
				}
				return
			}
			got = append(got, v)
		case <-timeout:
			t.Fatal("Recv channel was not closed after Close")
		}
	}
}

// TestDiscardStopsForwarding tests that Discard releases a blocked forwarder
func TestDiscardStopsForwarding(t *testing.T) {
	q := NewMPSC[int]()

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.Discard()
	q.Discard() // idempotent

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Recv():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Recv channel was not closed after Discard")
		}
	}
}

func BenchmarkMultiProducer(b *testing.B) {
	q := NewMPSC[int]()
	defer q.Discard()

	go func() {
		for range q.Recv() {
		}
	}()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
