package sofs

import (
	"testing"

	"github.com/rothixz/sofs/internal/sofserr"
)

func TestAllocFreeInodeCycle(t *testing.T) {
	m := newTestMount(t, 256, 16)

	a, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}
	b, err := m.AllocInode(TypeDirectory)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}
	if a == b {
		t.Fatalf("AllocInode returned the same inode twice: %d", a)
	}

	ino, err := m.fetchInode(a)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	if ino.isFree() {
		t.Errorf("freshly allocated inode reports free")
	}
	if ino.Refcount != 0 {
		t.Errorf("freshly allocated inode Refcount = %d, want 0", ino.Refcount)
	}

	if err := m.FreeInode(a); err != nil {
		t.Fatalf("FreeInode: %v", err)
	}

	c, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode after free: %v", err)
	}
	if c != b+1 {
		t.Errorf("AllocInode after a single free returned %d, want %d (freed inode %d goes to the tail of the free list)", c, b+1, a)
	}
}

func TestFreeInodeRejectsNonzeroRefcount(t *testing.T) {
	m := newTestMount(t, 256, 16)

	n, err := m.AllocInode(TypeRegular)
	if err != nil {
		t.Fatalf("AllocInode: %v", err)
	}
	ino, err := m.fetchInode(n)
	if err != nil {
		t.Fatalf("fetchInode: %v", err)
	}
	ino.Refcount = 1
	if err := m.storeInodeRaw(n, ino); err != nil {
		t.Fatalf("storeInodeRaw: %v", err)
	}

	if err := m.FreeInode(n); !sofserr.Is(err, sofserr.InodeInUseInvalid) {
		t.Errorf("FreeInode with Refcount=1: err = %v, want InodeInUseInvalid", err)
	}
}

func TestInodeTableExhaustion(t *testing.T) {
	m := newTestMount(t, 256, 8)

	var allocated []uint32
	for {
		n, err := m.AllocInode(TypeRegular)
		if err != nil {
			if !sofserr.Is(err, sofserr.NoSpace) {
				t.Fatalf("AllocInode: unexpected error %v", err)
			}
			break
		}
		allocated = append(allocated, n)
	}

	if len(allocated) != 7 {
		t.Fatalf("allocated %d inodes before NoSpace, want 7 (8 total minus root)", len(allocated))
	}

	for _, n := range allocated {
		if err := m.FreeInode(n); err != nil {
			t.Fatalf("FreeInode(%d): %v", n, err)
		}
	}
	if m.Super().Ifree != 7 {
		t.Errorf("Ifree after freeing everything = %d, want 7", m.Super().Ifree)
	}
}

func TestAllocFreeDataClusterCycle(t *testing.T) {
	m := newTestMount(t, 256, 16)

	startFree := m.Super().DzoneFree

	var allocated []uint32
	for i := 0; i < 20; i++ {
		n, err := m.AllocDataCluster()
		if err != nil {
			t.Fatalf("AllocDataCluster: %v", err)
		}
		if n == 0 {
			t.Fatalf("AllocDataCluster returned cluster 0, which belongs to root")
		}
		allocated = append(allocated, n)
	}

	seen := make(map[uint32]bool)
	for _, n := range allocated {
		if seen[n] {
			t.Fatalf("cluster %d allocated twice", n)
		}
		seen[n] = true
	}

	for _, n := range allocated {
		if err := m.FreeDataCluster(n); err != nil {
			t.Fatalf("FreeDataCluster(%d): %v", n, err)
		}
	}

	if m.Super().DzoneFree != startFree {
		t.Errorf("DzoneFree after alloc/free cycle = %d, want %d", m.Super().DzoneFree, startFree)
	}
}

func TestFreeDataClusterRejectsClusterZero(t *testing.T) {
	m := newTestMount(t, 256, 16)
	if err := m.FreeDataCluster(0); !sofserr.Is(err, sofserr.BadArgument) {
		t.Errorf("FreeDataCluster(0): err = %v, want BadArgument", err)
	}
}

// TestAllocDataClusterExhaustsFIFO drives enough allocations to empty the
// retrieval cache and pull every remaining cluster straight from the FIFO,
// then frees them all back through the insertion cache, exercising
// replenish and deplete.
func TestAllocDataClusterExhaustsFIFO(t *testing.T) {
	m := newTestMount(t, 256, 16)

	total := m.Super().DzoneFree
	var allocated []uint32
	for i := uint32(0); i < total; i++ {
		n, err := m.AllocDataCluster()
		if err != nil {
			t.Fatalf("AllocDataCluster #%d: %v", i, err)
		}
		allocated = append(allocated, n)
	}

	if _, err := m.AllocDataCluster(); !sofserr.Is(err, sofserr.NoSpace) {
		t.Errorf("AllocDataCluster past capacity: err = %v, want NoSpace", err)
	}

	for _, n := range allocated {
		if err := m.FreeDataCluster(n); err != nil {
			t.Fatalf("FreeDataCluster(%d): %v", n, err)
		}
	}

	if m.Super().DzoneFree != total {
		t.Errorf("DzoneFree after releasing everything = %d, want %d", m.Super().DzoneFree, total)
	}
	if err := m.Check(); err != nil {
		t.Errorf("Check after full alloc/free cycle: %v", err)
	}
}
