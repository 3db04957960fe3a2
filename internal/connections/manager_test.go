package connections

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestManager(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("add and remove entry", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		entry := NewEntry("ph-1", nil, nil)

		if prev := manager.Add(entry); prev != nil {
			t.Fatalf("expected no previous entry, got %v", prev)
		}
		if !manager.Has("ph-1") {
			t.Error("Entry not found after adding")
		}
		if !manager.Owns(entry) {
			t.Error("Manager should own the entry it just stored")
		}

		if !manager.Remove(entry) {
			t.Error("Remove should report success for the registered entry")
		}
		if manager.Has("ph-1") {
			t.Error("Entry still exists after removal")
		}
	})

	t.Run("replacing returns the previous entry", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		first := NewEntry("ph-1", nil, nil)
		second := NewEntry("ph-1", nil, nil)

		manager.Add(first)
		prev := manager.Add(second)
		if prev != first {
			t.Fatalf("expected first entry to be returned, got %v", prev)
		}
		if manager.Count() != 1 {
			t.Errorf("expected 1 entry, got %d", manager.Count())
		}

		// A stale entry must not evict its replacement.
		if manager.Remove(first) {
			t.Error("Removing a replaced entry should be a no-op")
		}
		if got, _ := manager.Get("ph-1"); got != second {
			t.Error("Replacement entry was evicted")
		}
	})

	t.Run("replace only swaps the registered entry", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		first := NewEntry("ph-1", nil, nil)
		second := NewEntry("ph-1", nil, nil)
		third := NewEntry("ph-1", nil, nil)

		manager.Add(first)
		if !manager.Replace(first, second) {
			t.Fatal("Replace should succeed for the registered entry")
		}
		if manager.Replace(first, third) {
			t.Error("Replace should fail once the old entry is gone")
		}
		if !manager.Owns(second) {
			t.Error("Second entry should be registered")
		}
	})

	t.Run("take and close all", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		cancelled := 0
		var mu sync.Mutex
		for i := 0; i < 3; i++ {
			manager.Add(NewEntry(fmt.Sprintf("ph-%d", i), nil, func() {
				mu.Lock()
				cancelled++
				mu.Unlock()
			}))
		}

		if e := manager.Take("ph-0"); e == nil || e.ID != "ph-0" {
			t.Fatalf("Take returned %v", e)
		}
		if manager.Take("missing") != nil {
			t.Error("Take of unknown ID should return nil")
		}

		manager.CloseAll()
		if manager.Count() != 0 {
			t.Errorf("expected no entries after CloseAll, got %d", manager.Count())
		}
		if cancelled != 2 {
			t.Errorf("expected 2 cancelled read loops, got %d", cancelled)
		}
	})

	t.Run("concurrent add operations", func(t *testing.T) {
		manager := NewManager(DefaultTimeouts)
		concurrentOps := 100
		var wg sync.WaitGroup
		wg.Add(concurrentOps)

		for i := 0; i < concurrentOps; i++ {
			go func(id string) {
				defer wg.Done()
				select {
				case <-ctx.Done():
					return
				default:
					manager.Add(NewEntry(id, nil, nil))
				}
			}(fmt.Sprintf("ph-%d", i%10))
		}

		waitCh := make(chan struct{})
		go func() {
			wg.Wait()
			close(waitCh)
		}()

		select {
		case <-ctx.Done():
			t.Fatal("Test timed out")
		case <-waitCh:
		}

		if manager.Count() != 10 {
			t.Errorf("expected one entry per ID, got %d", manager.Count())
		}
		if len(manager.IDs()) != 10 {
			t.Errorf("expected 10 IDs, got %d", len(manager.IDs()))
		}
	})

	t.Run("timeout configuration", func(t *testing.T) {
		customTimeouts := TimeoutConfig{
			PongWait:   1 * time.Minute,
			PingPeriod: 54 * time.Second,
			WriteWait:  20 * time.Second,
		}

		manager := NewManager(customTimeouts)
		if manager.GetTimeouts() != customTimeouts {
			t.Error("Timeout configuration not set correctly")
		}

		newTimeouts := TimeoutConfig{
			PongWait:   2 * time.Minute,
			PingPeriod: 108 * time.Second,
			WriteWait:  30 * time.Second,
		}
		manager.SetTimeouts(newTimeouts)
		if manager.GetTimeouts() != newTimeouts {
			t.Error("Timeout configuration not updated correctly")
		}
	})
}
