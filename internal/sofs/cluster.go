package sofs

import "github.com/rothixz/sofs/internal/sofserr"

// ClusterOp selects the behaviour of handleFileCluster (C6): GET just
// resolves an index to a logical cluster number, ALLOC creates whatever
// indirection is missing along the path, FREE releases the data cluster
// (and, transitively, any indirection cluster left all-null by the
// release).
type ClusterOp int

const (
	ClusterGet ClusterOp = iota
	ClusterAlloc
	ClusterFree
)

// addressTier is the small state machine from the design notes: which of
// the three addressing strategies a file-relative cluster index falls
// into.
type addressTier int

const (
	tierDirect addressTier = iota
	tierSingleIndirect
	tierDoubleIndirect
)

func tierOf(c int64) (tier addressTier, directSlot, singleSlot, doubleOuter, doubleInner int64) {
	switch {
	case c < NDirect:
		return tierDirect, c, 0, 0, 0
	case c < NDirect+RPC:
		return tierSingleIndirect, 0, c - NDirect, 0, 0
	default:
		rem := c - NDirect - RPC
		return tierDoubleIndirect, 0, 0, rem / RPC, rem % RPC
	}
}

// refCluster is an in-memory view of a single/double-indirect reference
// cluster: RPC consecutive uint32 references.
type refCluster []uint32

func decodeRefCluster(buf []byte) refCluster {
	out := make(refCluster, RPC)
	for i := range out {
		out[i] = leUint32(buf[i*refSize:])
	}
	return out
}

func (r refCluster) encode() []byte {
	buf := make([]byte, ClusterSize)
	for i, v := range r {
		putLeUint32(buf[i*refSize:], v)
	}
	return buf
}

func (r refCluster) allNull() bool {
	for _, v := range r {
		if v != NullCluster {
			return false
		}
	}
	return true
}

func newNullRefCluster() refCluster {
	r := make(refCluster, RPC)
	for i := range r {
		r[i] = NullCluster
	}
	return r
}

func (m *Mount) readRefCluster(slot *loadedBlock, nClust uint32) (refCluster, error) {
	buf, err := m.loadCluster(slot, "readRefCluster", nClust)
	if err != nil {
		return nil, err
	}
	rc := decodeRefCluster(buf)
	if err := m.storeCluster(slot, "readRefCluster", nClust, buf); err != nil {
		return nil, err
	}
	return rc, nil
}

func (m *Mount) writeRefCluster(slot *loadedBlock, nClust uint32, rc refCluster) error {
	buf, err := m.loadCluster(slot, "writeRefCluster", nClust)
	if err != nil {
		return err
	}
	copy(buf, rc.encode())
	return m.storeCluster(slot, "writeRefCluster", nClust, buf)
}

// handleFileCluster resolves, allocates, or frees the data cluster at
// file-relative index c of inode nInode, per spec §4.6. The inode record
// is fetched and stored exactly once per call.
func (m *Mount) handleFileCluster(nInode uint32, c int64, op ClusterOp) (uint32, error) {
	const errOp = "handleFileCluster"

	if c < 0 || c >= MaxFileClusters {
		return 0, sofserr.New(errOp, sofserr.BadArgument)
	}

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return 0, err
	}
	if ino.isFree() {
		return 0, sofserr.New(errOp, sofserr.InodeInUseInvalid)
	}

	result, err := m.handleFileClusterOn(ino, c, op)
	if err != nil {
		return 0, err
	}

	if err := m.storeInodeRaw(nInode, ino); err != nil {
		return 0, err
	}

	return result, nil
}

// handleFileClusterOn implements the addressing logic in place on an
// already-loaded inode record, without touching the inode table; callers
// are responsible for persisting ino afterwards. It dispatches to the
// per-tier handlers (handleDirect, handleSingleIndirect,
// handleDoubleIndirect), which handleFileClusters (bulk free) also calls
// directly so it need not refetch the inode for every slot.
func (m *Mount) handleFileClusterOn(ino *Inode, c int64, op ClusterOp) (uint32, error) {
	const errOp = "handleFileCluster"

	tier, directSlot, singleSlot, doubleOuter, doubleInner := tierOf(c)

	switch tier {
	case tierDirect:
		return m.handleDirect(ino, directSlot, op)

	case tierSingleIndirect:
		return m.handleSingleIndirect(ino, singleSlot, op)

	case tierDoubleIndirect:
		return m.handleDoubleIndirect(ino, doubleOuter, doubleInner, op)
	}

	return 0, sofserr.New(errOp, sofserr.LibraryBad)
}

func (m *Mount) handleDirect(ino *Inode, slot int64, op ClusterOp) (uint32, error) {
	const errOp = "handleFileCluster"

	cur := ino.D[slot]

	switch op {
	case ClusterGet:
		return cur, nil

	case ClusterAlloc:
		if cur != NullCluster {
			return 0, sofserr.New(errOp, sofserr.AlreadyInList)
		}
		n, err := m.AllocDataCluster()
		if err != nil {
			return 0, err
		}
		ino.D[slot] = n
		ino.Clucount++
		return n, nil

	case ClusterFree:
		if cur == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}
		if err := m.FreeDataCluster(cur); err != nil {
			return 0, err
		}
		ino.D[slot] = NullCluster
		ino.Clucount--
		return cur, nil
	}

	return 0, sofserr.New(errOp, sofserr.LibraryBad)
}

func (m *Mount) handleSingleIndirect(ino *Inode, slot int64, op ClusterOp) (uint32, error) {
	const errOp = "handleFileCluster"

	switch op {
	case ClusterGet:
		if ino.I1 == NullCluster {
			return NullCluster, nil
		}
		rc, err := m.readRefCluster(&m.ref1, ino.I1)
		if err != nil {
			return 0, err
		}
		return rc[slot], nil

	case ClusterAlloc:
		needIndirection := ino.I1 == NullCluster

		var rc refCluster
		if !needIndirection {
			var err error
			rc, err = m.readRefCluster(&m.ref1, ino.I1)
			if err != nil {
				return 0, err
			}
			if rc[slot] != NullCluster {
				return 0, sofserr.New(errOp, sofserr.AlreadyInList)
			}
		}

		// Budget the whole allocation before mutating anything: 2 clusters
		// (indirection + data) if i1 doesn't exist yet, else 1.
		need := uint32(1)
		if needIndirection {
			need = 2
		}
		if m.super.DzoneFree < need {
			return 0, sofserr.New(errOp, sofserr.NoSpace)
		}

		if needIndirection {
			n, err := m.AllocDataCluster()
			if err != nil {
				return 0, err
			}
			ino.I1 = n
			ino.Clucount++
			rc = newNullRefCluster()
		}

		n, err := m.AllocDataCluster()
		if err != nil {
			return 0, err
		}
		rc[slot] = n
		ino.Clucount++

		if err := m.writeRefCluster(&m.ref1, ino.I1, rc); err != nil {
			return 0, err
		}

		return n, nil

	case ClusterFree:
		if ino.I1 == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}
		rc, err := m.readRefCluster(&m.ref1, ino.I1)
		if err != nil {
			return 0, err
		}
		if rc[slot] == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}

		freed := rc[slot]
		if err := m.FreeDataCluster(freed); err != nil {
			return 0, err
		}
		rc[slot] = NullCluster
		ino.Clucount--

		if rc.allNull() {
			if err := m.FreeDataCluster(ino.I1); err != nil {
				return 0, err
			}
			ino.I1 = NullCluster
			ino.Clucount--
		} else if err := m.writeRefCluster(&m.ref1, ino.I1, rc); err != nil {
			return 0, err
		}

		return freed, nil
	}

	return 0, sofserr.New(errOp, sofserr.LibraryBad)
}

func (m *Mount) handleDoubleIndirect(ino *Inode, outer, inner int64, op ClusterOp) (uint32, error) {
	const errOp = "handleFileCluster"

	switch op {
	case ClusterGet:
		if ino.I2 == NullCluster {
			return NullCluster, nil
		}
		outerRC, err := m.readRefCluster(&m.ref2, ino.I2)
		if err != nil {
			return 0, err
		}
		if outerRC[outer] == NullCluster {
			return NullCluster, nil
		}
		innerRC, err := m.readRefCluster(&m.ref1, outerRC[outer])
		if err != nil {
			return 0, err
		}
		return innerRC[inner], nil

	case ClusterAlloc:
		needOuter := ino.I2 == NullCluster

		var outerRC refCluster
		if !needOuter {
			var err error
			outerRC, err = m.readRefCluster(&m.ref2, ino.I2)
			if err != nil {
				return 0, err
			}
		} else {
			outerRC = newNullRefCluster()
		}

		needInner := needOuter || outerRC[outer] == NullCluster

		var innerRC refCluster
		if !needInner {
			var err error
			innerRC, err = m.readRefCluster(&m.ref1, outerRC[outer])
			if err != nil {
				return 0, err
			}
			if innerRC[inner] != NullCluster {
				return 0, sofserr.New(errOp, sofserr.AlreadyInList)
			}
		} else {
			innerRC = newNullRefCluster()
		}

		// Budget the whole allocation before mutating anything: 3 clusters
		// (i2 + single-indirect + data) if i2 doesn't exist yet, 2 if only
		// the single-indirect slot is missing, else 1.
		need := uint32(1)
		switch {
		case needOuter:
			need = 3
		case needInner:
			need = 2
		}
		if m.super.DzoneFree < need {
			return 0, sofserr.New(errOp, sofserr.NoSpace)
		}

		if needOuter {
			n, err := m.AllocDataCluster()
			if err != nil {
				return 0, err
			}
			ino.I2 = n
			ino.Clucount++
		}

		if needInner {
			n, err := m.AllocDataCluster()
			if err != nil {
				return 0, err
			}
			outerRC[outer] = n
			ino.Clucount++
		}

		n, err := m.AllocDataCluster()
		if err != nil {
			return 0, err
		}
		innerRC[inner] = n
		ino.Clucount++

		if err := m.writeRefCluster(&m.ref1, outerRC[outer], innerRC); err != nil {
			return 0, err
		}
		if err := m.writeRefCluster(&m.ref2, ino.I2, outerRC); err != nil {
			return 0, err
		}

		return n, nil

	case ClusterFree:
		if ino.I2 == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}
		outerRC, err := m.readRefCluster(&m.ref2, ino.I2)
		if err != nil {
			return 0, err
		}
		if outerRC[outer] == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}

		innerRC, err := m.readRefCluster(&m.ref1, outerRC[outer])
		if err != nil {
			return 0, err
		}
		if innerRC[inner] == NullCluster {
			return 0, sofserr.New(errOp, sofserr.NotInList)
		}

		freed := innerRC[inner]
		if err := m.FreeDataCluster(freed); err != nil {
			return 0, err
		}
		innerRC[inner] = NullCluster
		ino.Clucount--

		if innerRC.allNull() {
			if err := m.FreeDataCluster(outerRC[outer]); err != nil {
				return 0, err
			}
			outerRC[outer] = NullCluster
			ino.Clucount--
		} else if err := m.writeRefCluster(&m.ref1, outerRC[outer], innerRC); err != nil {
			return 0, err
		}

		if outerRC.allNull() {
			if err := m.FreeDataCluster(ino.I2); err != nil {
				return 0, err
			}
			ino.I2 = NullCluster
			ino.Clucount--
		} else if err := m.writeRefCluster(&m.ref2, ino.I2, outerRC); err != nil {
			return 0, err
		}

		return freed, nil
	}

	return 0, sofserr.New(errOp, sofserr.LibraryBad)
}

// handleFileClusters frees every allocated data cluster of inode nInode
// whose file-relative index is >= cStart: direct slots first, then the
// tail of the single-indirect cluster, then each reachable slot of the
// double-indirect tree, reclaiming indirection clusters automatically as
// they empty out.
func (m *Mount) handleFileClusters(nInode uint32, cStart int64) error {
	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}

	for i := int64(0); i < NDirect; i++ {
		if i < cStart {
			continue
		}
		if ino.D[i] == NullCluster {
			continue
		}
		if _, err := m.handleDirect(ino, i, ClusterFree); err != nil {
			return err
		}
	}

	if ino.I1 != NullCluster {
		for j := int64(0); j < RPC; j++ {
			idx := NDirect + j
			if idx < cStart {
				continue
			}
			rc, err := m.readRefCluster(&m.ref1, ino.I1)
			if err != nil {
				return err
			}
			if rc[j] == NullCluster {
				continue
			}
			if _, err := m.handleSingleIndirect(ino, j, ClusterFree); err != nil {
				return err
			}
			if ino.I1 == NullCluster {
				break
			}
		}
	}

	if ino.I2 != NullCluster {
		for k := int64(0); k < RPC; k++ {
			base := NDirect + RPC + k*RPC
			if base+RPC-1 < cStart {
				continue
			}
			outerRC, err := m.readRefCluster(&m.ref2, ino.I2)
			if err != nil {
				return err
			}
			if outerRC[k] == NullCluster {
				continue
			}
			for j := int64(0); j < RPC; j++ {
				idx := base + j
				if idx < cStart {
					continue
				}
				outerRC, err := m.readRefCluster(&m.ref2, ino.I2)
				if err != nil {
					return err
				}
				if outerRC[k] == NullCluster {
					break
				}
				innerRC, err := m.readRefCluster(&m.ref1, outerRC[k])
				if err != nil {
					return err
				}
				if innerRC[j] == NullCluster {
					continue
				}
				if _, err := m.handleDoubleIndirect(ino, k, j, ClusterFree); err != nil {
					return err
				}
			}
			if ino.I2 == NullCluster {
				break
			}
		}
	}

	return m.storeInodeRaw(nInode, ino)
}

// ReadFileCluster fills buf (ClusterSize bytes) with the contents of
// file-relative cluster c of inode nInode, zero-filling if the slot is
// unallocated.
func (m *Mount) ReadFileCluster(nInode uint32, c int64) ([]byte, error) {
	n, err := m.handleFileCluster(nInode, c, ClusterGet)
	if err != nil {
		return nil, err
	}
	if n == NullCluster {
		return make([]byte, ClusterSize), nil
	}
	return m.readCluster(n)
}

// WriteFileCluster allocates file-relative cluster c of inode nInode if
// necessary, then writes buf (ClusterSize bytes) to it.
func (m *Mount) WriteFileCluster(nInode uint32, c int64, buf []byte) error {
	const op = "WriteFileCluster"

	if len(buf) != ClusterSize {
		return sofserr.New(op, sofserr.BadArgument)
	}

	n, err := m.handleFileCluster(nInode, c, ClusterGet)
	if err != nil {
		return err
	}
	if n == NullCluster {
		n, err = m.handleFileCluster(nInode, c, ClusterAlloc)
		if err != nil {
			return err
		}
	}

	return m.writeCluster(n, buf)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
