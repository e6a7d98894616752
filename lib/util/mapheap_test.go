package util

import (
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if _, _, ok := mh.Peek(); ok {
		t.Error("Peek() on an empty heap should return ok=false")
	}
}

// TestAddItemOrdersByDeadline tests that the earliest deadline is on top
func TestAddItemOrdersByDeadline(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}

	key, prio, ok := mh.Peek()
	if !ok {
		t.Fatal("Peek() should return an item")
	}
	if key != 3 || prio != 50 {
		t.Errorf("Expected min item to be (3,50), got (%d,%d)", key, prio)
	}
}

// TestAddItemMovesExistingKey tests that re-adding a key moves its deadline
func TestAddItemMovesExistingKey(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(1, 300)

	if mh.Len() != 2 {
		t.Fatalf("Heap should still have 2 items, but has %d", mh.Len())
	}

	key, prio, _ := mh.Peek()
	if key != 2 || prio != 200 {
		t.Errorf("Expected min item to be (2,200), got (%d,%d)", key, prio)
	}
}

// TestRemoveByKey tests cancelling a single deadline
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(1, 100)
	mh.AddItem(2, 50)
	mh.AddItem(3, 150)

	prio, ok := mh.RemoveByKey(2)
	if !ok || prio != 50 {
		t.Fatalf("RemoveByKey(2) = (%d,%v), want (50,true)", prio, ok)
	}

	if mh.Contains(2) {
		t.Error("Heap should no longer contain key 2")
	}

	if _, ok := mh.RemoveByKey(2); ok {
		t.Error("Removing a missing key should return ok=false")
	}

	key, _, _ := mh.Peek()
	if key != 1 {
		t.Errorf("Expected key 1 on top after removal, got %d", key)
	}
}

// TestPopDue tests that only expired deadlines are returned, in order
func TestPopDue(t *testing.T) {
	mh := NewMapHeap()

	mh.AddItem(10, 300)
	mh.AddItem(11, 100)
	mh.AddItem(12, 200)
	mh.AddItem(13, 400)

	due := mh.PopDue(250)
	if len(due) != 2 || due[0] != 11 || due[1] != 12 {
		t.Fatalf("PopDue(250) = %v, want [11 12]", due)
	}

	if mh.Len() != 2 {
		t.Errorf("Expected 2 remaining items, got %d", mh.Len())
	}

	if due := mh.PopDue(250); len(due) != 0 {
		t.Errorf("Second PopDue(250) should be empty, got %v", due)
	}

	due = mh.PopDue(1000)
	if len(due) != 2 || due[0] != 10 || due[1] != 13 {
		t.Errorf("PopDue(1000) = %v, want [10 13]", due)
	}
}
