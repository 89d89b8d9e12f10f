package util

import (
	"sort"
	"testing"
)

// TestAddItem tests adding items to the heap
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(3, 50, "c")

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}
	for _, key := range []uint64{1, 2, 3} {
		if !mh.Contains(key) {
			t.Errorf("Heap should contain key %d", key)
		}
	}

	// min heap, so the lowest priority should be first
	item, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if item.Key != 3 || item.Priority != 50 || item.Value != "c" {
		t.Errorf("Expected min item to be (3,50,c), got %s", item)
	}
}

// TestUpdateItem tests updating existing items
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap[int]()

	mh.AddItem(1, 100, 1)
	mh.AddItem(2, 200, 2)
	mh.AddItem(1, 300, 10)

	item, exists := mh.GetByKey(1)
	if !exists {
		t.Fatal("Item with key 1 should exist")
	}
	if item.Priority != 300 || item.Value != 10 {
		t.Errorf("Item with key 1 should be (300,10), got (%d,%d)", item.Priority, item.Value)
	}

	min, _ := mh.Peek()
	if min.Key != 2 {
		t.Errorf("Min item should now be key 2, got %d", min.Key)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem(1, 100, "a")
	mh.AddItem(2, 200, "b")
	mh.AddItem(3, 300, "c")

	value, exists := mh.RemoveByKey(2)
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if value != "b" {
		t.Errorf("RemoveByKey should return value b, got %s", value)
	}
	if mh.Len() != 2 || mh.Contains(2) {
		t.Errorf("Key 2 should be removed, heap has %d items", mh.Len())
	}

	if _, exists = mh.RemoveByKey(99); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in correct order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap[uint64]()

	items := []struct {
		key      uint64
		priority uint64
	}{
		{5, 50}, {3, 30}, {1, 10}, {4, 40}, {2, 20},
	}
	for _, item := range items {
		mh.AddItem(item.key, item.priority, item.key*2)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].priority < items[j].priority
	})

	for i, expected := range items {
		key, value, ok := mh.PopMin()
		if !ok {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}
		if key != expected.key || value != expected.key*2 {
			t.Errorf("Pop %d: expected key %d, got %d", i, expected.key, key)
		}
	}

	if _, _, ok := mh.PopMin(); ok {
		t.Error("PopMin on empty heap should return ok=false")
	}
	if _, exists := mh.Peek(); exists {
		t.Error("Peek on empty heap should return exists=false")
	}
}
