package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestGenerateIsUniqueAndIncreasing(t *testing.T) {
	node := NewNode(3)

	var last ID
	seen := make(map[ID]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		id := node.Generate()
		if id <= last {
			t.Fatalf("期望 ID 单调递增, %d <= %d", id, last)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("重复 ID: %d", id)
		}
		seen[id] = struct{}{}
		last = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	node := NewNode(1)

	var mu sync.Mutex
	seen := make(map[ID]struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := node.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 8*500 {
		t.Errorf("期望 %d 个唯一 ID, 实际 = %d", 8*500, len(seen))
	}
}

func TestIDTime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	node := NewNode(1)
	node.now = func() time.Time { return fixed }

	id := node.Generate()
	if !id.Time().Equal(fixed) {
		t.Errorf("期望时间 = %v, 实际 = %v", fixed, id.Time())
	}
	if id.String() == "" || id.Int64() <= 0 {
		t.Errorf("非法 ID: %v", id)
	}
}

func TestNewNodeOutOfRange(t *testing.T) {
	node := NewNode(maxNodeID + 1)
	if node.nodeID != 1 {
		t.Errorf("期望越界节点号回落为 1, 实际 = %d", node.nodeID)
	}
}
