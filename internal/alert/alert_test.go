package alert

import "testing"

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(2)
	q.Push(NewLog("one"))
	q.Push(NewLog("two"))
	q.Push(NewLog("three"))

	items := q.Pop()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after overflow, got %d", len(items))
	}
	if items[0].(*LogAlert).Message != "two" || items[1].(*LogAlert).Message != "three" {
		t.Fatalf("expected oldest dropped, got %+v", items)
	}
}

func TestQueuePopDrains(t *testing.T) {
	q := NewQueue(0)
	q.Push(NewTorrentFinished("abc"))
	if q.Len() != 1 {
		t.Fatalf("expected 1 queued alert, got %d", q.Len())
	}
	items := q.Pop()
	if len(items) != 1 {
		t.Fatalf("expected 1 popped alert, got %d", len(items))
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after pop, got %d", q.Len())
	}
}

func TestQueueCallback(t *testing.T) {
	q := NewQueue(0)
	var got Alert
	q.SetCallback(func(a Alert) { got = a })
	q.Push(NewPerformance("disk queue saturated"))
	if got == nil || got.Category() != Performance {
		t.Fatalf("expected callback to observe pushed alert, got %+v", got)
	}
}
