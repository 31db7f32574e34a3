package sofs

import (
	"bytes"
	"testing"

	"github.com/rothixz/sofs/internal/sofserr"
)

func TestTierOfBoundaries(t *testing.T) {
	cases := []struct {
		c    int64
		tier addressTier
	}{
		{0, tierDirect},
		{NDirect - 1, tierDirect},
		{NDirect, tierSingleIndirect},
		{NDirect + RPC - 1, tierSingleIndirect},
		{NDirect + RPC, tierDoubleIndirect},
		{NDirect + RPC + RPC*RPC - 1, tierDoubleIndirect},
	}
	for _, c := range cases {
		tier, _, _, _, _ := tierOf(c.c)
		if tier != c.tier {
			t.Errorf("tierOf(%d) = %v, want %v", c.c, tier, c.tier)
		}
	}
}

func TestHandleFileClusterDirect(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	if got, err := m.handleFileCluster(n, 3, ClusterGet); err != nil || got != NullCluster {
		t.Fatalf("ClusterGet on an unallocated direct slot: got (%d, %v), want (NullCluster, nil)", got, err)
	}

	alloc, err := m.handleFileCluster(n, 3, ClusterAlloc)
	if err != nil {
		t.Fatalf("ClusterAlloc: %v", err)
	}

	if got, err := m.handleFileCluster(n, 3, ClusterGet); err != nil || got != alloc {
		t.Fatalf("ClusterGet after Alloc = (%d, %v), want (%d, nil)", got, err, alloc)
	}

	if _, err := m.handleFileCluster(n, 3, ClusterAlloc); !sofserr.Is(err, sofserr.AlreadyInList) {
		t.Errorf("double ClusterAlloc: err = %v, want AlreadyInList", err)
	}

	if freed, err := m.handleFileCluster(n, 3, ClusterFree); err != nil || freed != alloc {
		t.Fatalf("ClusterFree = (%d, %v), want (%d, nil)", freed, err, alloc)
	}

	if _, err := m.handleFileCluster(n, 3, ClusterFree); !sofserr.Is(err, sofserr.NotInList) {
		t.Errorf("double ClusterFree: err = %v, want NotInList", err)
	}
}

func TestHandleFileClusterSingleIndirect(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	idx := int64(NDirect + 5)
	alloc, err := m.handleFileCluster(n, idx, ClusterAlloc)
	if err != nil {
		t.Fatalf("ClusterAlloc: %v", err)
	}

	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I1 == NullCluster {
		t.Fatalf("I1 was never allocated for a single-indirect slot")
	}

	if freed, err := m.handleFileCluster(n, idx, ClusterFree); err != nil || freed != alloc {
		t.Fatalf("ClusterFree = (%d, %v), want (%d, nil)", freed, err, alloc)
	}

	ino, err = m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I1 != NullCluster {
		t.Errorf("I1 = %d, want NullCluster (the single-indirect cluster should reclaim once empty)", ino.I1)
	}
}

func TestHandleFileClusterDoubleIndirect(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	idx := int64(NDirect + RPC + 7)
	alloc, err := m.handleFileCluster(n, idx, ClusterAlloc)
	if err != nil {
		t.Fatalf("ClusterAlloc: %v", err)
	}

	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I2 == NullCluster {
		t.Fatalf("I2 was never allocated for a double-indirect slot")
	}

	if freed, err := m.handleFileCluster(n, idx, ClusterFree); err != nil || freed != alloc {
		t.Fatalf("ClusterFree = (%d, %v), want (%d, nil)", freed, err, alloc)
	}

	ino, err = m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I2 != NullCluster {
		t.Errorf("I2 = %d, want NullCluster (outer and inner should both reclaim once empty)", ino.I2)
	}
}

// TestHandleFileClusterAllocNoSpaceSingleIndirect drains the free-cluster
// pool down to one short of what a first single-indirect allocation needs
// (indirection cluster + data cluster), then asserts the whole allocation
// is budgeted up front: it fails with NoSpace, leaves I1 untouched, and
// leaks no cluster out of the free pool.
func TestHandleFileClusterAllocNoSpaceSingleIndirect(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	var drained []uint32
	for m.super.DzoneFree > 1 {
		c, err := m.AllocDataCluster()
		if err != nil {
			t.Fatalf("AllocDataCluster: %v", err)
		}
		drained = append(drained, c)
	}
	before := m.super.DzoneFree

	idx := int64(NDirect + 5)
	if _, err := m.handleFileCluster(n, idx, ClusterAlloc); !sofserr.Is(err, sofserr.NoSpace) {
		t.Fatalf("ClusterAlloc with budget 1 of 2 needed: err = %v, want NoSpace", err)
	}

	if m.super.DzoneFree != before {
		t.Errorf("DzoneFree changed after a failed budget check: got %d, want %d", m.super.DzoneFree, before)
	}

	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I1 != NullCluster {
		t.Errorf("I1 = %d, want NullCluster (no partial allocation should have happened)", ino.I1)
	}

	for _, c := range drained {
		if err := m.FreeDataCluster(c); err != nil {
			t.Fatalf("FreeDataCluster(%d): %v", c, err)
		}
	}
	if err := m.Check(); err != nil {
		t.Errorf("Check after releasing everything: %v", err)
	}
}

// TestHandleFileClusterAllocNoSpaceDoubleIndirect mirrors the single-indirect
// case above one tier deeper: a first double-indirect allocation needs 3
// clusters (i2, the single-indirect cluster it points to, and the data
// cluster); draining the pool to 2 must fail the same way, before i2 is
// ever touched.
func TestHandleFileClusterAllocNoSpaceDoubleIndirect(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	var drained []uint32
	for m.super.DzoneFree > 2 {
		c, err := m.AllocDataCluster()
		if err != nil {
			t.Fatalf("AllocDataCluster: %v", err)
		}
		drained = append(drained, c)
	}
	before := m.super.DzoneFree

	idx := int64(NDirect + RPC + 7)
	if _, err := m.handleFileCluster(n, idx, ClusterAlloc); !sofserr.Is(err, sofserr.NoSpace) {
		t.Fatalf("ClusterAlloc with budget 2 of 3 needed: err = %v, want NoSpace", err)
	}

	if m.super.DzoneFree != before {
		t.Errorf("DzoneFree changed after a failed budget check: got %d, want %d", m.super.DzoneFree, before)
	}

	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.I2 != NullCluster {
		t.Errorf("I2 = %d, want NullCluster (no partial allocation should have happened)", ino.I2)
	}

	for _, c := range drained {
		if err := m.FreeDataCluster(c); err != nil {
			t.Fatalf("FreeDataCluster(%d): %v", c, err)
		}
	}
	if err := m.Check(); err != nil {
		t.Errorf("Check after releasing everything: %v", err)
	}
}

func TestReadWriteFileClusterRoundtrip(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	buf := bytes.Repeat([]byte{0x7E}, ClusterSize)
	if err := m.WriteFileCluster(n, 0, buf); err != nil {
		t.Fatalf("WriteFileCluster: %v", err)
	}

	got, err := m.ReadFileCluster(n, 0)
	if err != nil {
		t.Fatalf("ReadFileCluster: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Errorf("ReadFileCluster did not round-trip what was written")
	}

	hole, err := m.ReadFileCluster(n, 5)
	if err != nil {
		t.Fatalf("ReadFileCluster(hole): %v", err)
	}
	if !bytes.Equal(hole, make([]byte, ClusterSize)) {
		t.Errorf("ReadFileCluster of an unallocated slot should zero-fill")
	}
}

func TestHandleFileClustersBulkFree(t *testing.T) {
	m := newTestMount(t, 256, 16)
	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}

	indices := []int64{0, 2, NDirect + 1, NDirect + RPC + 3}
	for _, idx := range indices {
		if _, err := m.handleFileCluster(n, idx, ClusterAlloc); err != nil {
			t.Fatalf("ClusterAlloc(%d): %v", idx, err)
		}
	}

	if err := m.handleFileClusters(n, 0); err != nil {
		t.Fatalf("handleFileClusters: %v", err)
	}

	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.Clucount != 0 {
		t.Errorf("Clucount after bulk free = %d, want 0", ino.Clucount)
	}
	for _, d := range ino.D {
		if d != NullCluster {
			t.Errorf("direct slot still allocated after bulk free: %d", d)
		}
	}
	if ino.I1 != NullCluster || ino.I2 != NullCluster {
		t.Errorf("indirection clusters still allocated after bulk free: I1=%d I2=%d", ino.I1, ino.I2)
	}

	if err := m.Check(); err != nil {
		t.Errorf("Check after bulk free: %v", err)
	}
}
