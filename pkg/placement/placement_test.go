package placement

import (
	"testing"

	"github.com/shardkv/enterdb/pkg/models"
)

func testPool() []Node {
	return []Node{
		{ID: "n1", DC: "dc1"},
		{ID: "n2", DC: "dc1"},
		{ID: "n3", DC: "dc2"},
		{ID: "n4", DC: "dc2"},
	}
}

func TestAllocateLocal_S1(t *testing.T) {
	placements := AllocateLocal("t1", 3)
	if len(placements) != 3 {
		t.Fatalf("expected 3 shards, got %d", len(placements))
	}
	want := []string{"t1_shard0", "t1_shard1", "t1_shard2"}
	for i, p := range placements {
		if p.ShardID != want[i] {
			t.Errorf("shard %d: expected %s, got %s", i, want[i], p.ShardID)
		}
		if p.RingEntry != nil {
			t.Errorf("expected nil ring entry for local table, got %v", p.RingEntry)
		}
	}
}

func TestLocalRing_AllocateNodes(t *testing.T) {
	ring := NewLocalRing(testPool(), "murmur3")
	placements, err := ring.AllocateNodes([]string{"t1_shard0", "t1_shard1"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range placements {
		total := 0
		for _, nodes := range p.RingEntry {
			total += len(nodes)
		}
		if total != 2 {
			t.Errorf("shard %s: expected 2 replicas, got %d (%v)", p.ShardID, total, p.RingEntry)
		}
	}
}

func TestLocalRing_AllocateNodes_RFExceedsPool(t *testing.T) {
	ring := NewLocalRing(testPool(), "murmur3")
	_, err := ring.AllocateNodes([]string{"t1_shard0"}, 10)
	if err == nil {
		t.Fatal("expected error when rf exceeds node pool")
	}
}

func TestLocalRing_CreateGetDeleteExists(t *testing.T) {
	ring := NewLocalRing(testPool(), "murmur3")
	if ring.Exists("t1") {
		t.Fatal("expected ring to not exist before creation")
	}
	if err := ring.CreateRing("t1", []string{"t1_shard0", "t1_shard1", "t1_shard2"}, 1, RingOptions{Algorithm: "sha", Strategy: "uniform"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ring.Exists("t1") {
		t.Fatal("expected ring to exist after creation")
	}
	nodes, ok := ring.GetNodes("t1")
	if !ok || len(nodes) != 3 {
		t.Fatalf("expected 3 placements, got %v ok=%v", nodes, ok)
	}
	if err := ring.DeleteRing("t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ring.Exists("t1") {
		t.Fatal("expected ring to not exist after deletion")
	}
}

func TestFindLocalShards(t *testing.T) {
	placements := []models.ShardPlacement{
		{ShardID: "s0", RingEntry: map[string][]string{"dc1": {"n1", "n2"}}},
		{ShardID: "s1", RingEntry: map[string][]string{"dc2": {"n3"}}},
		{ShardID: "s2", RingEntry: map[string][]string{"dc1": {"n2"}}},
	}
	local := FindLocalShards(placements, "n2", "dc1")
	if len(local) != 2 {
		t.Fatalf("expected 2 local shards for n2/dc1, got %d: %v", len(local), local)
	}
	if local[0].ShardID != "s0" || local[1].ShardID != "s2" {
		t.Errorf("unexpected local shards: %v", local)
	}
}

func TestFindLocalShards_AllLocalTable(t *testing.T) {
	placements := []models.ShardPlacement{
		{ShardID: "s0"},
		{ShardID: "s1"},
	}
	local := FindLocalShards(placements, "n1", "dc1")
	if len(local) != 2 {
		t.Errorf("expected local table's placements returned unchanged, got %v", local)
	}
}
