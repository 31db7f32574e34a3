package sofs

import (
	"encoding/binary"

	"github.com/rothixz/sofs/internal/sofserr"
)

// This file implements C4, the free-space allocator: the doubly-linked
// free-inode list, and the retrieval/insertion caches fronting the
// circular free-cluster-table FIFO.

// readFCTSlot/writeFCTSlot address one uint32 entry of the free-cluster
// table by its logical FIFO index.
func (m *Mount) readFCTSlot(idx uint32) (uint32, error) {
	blockOffset, slot, err := convertRefFCT(m.super.DzoneTotal, idx)
	if err != nil {
		return 0, err
	}

	block, err := m.loadFCTBlock(blockOffset)
	if err != nil {
		return 0, err
	}

	val := binary.LittleEndian.Uint32(block[slot*refSize:])

	if err := m.storeFCTBlock(blockOffset, block); err != nil {
		return 0, err
	}

	return val, nil
}

func (m *Mount) writeFCTSlot(idx uint32, val uint32) error {
	blockOffset, slot, err := convertRefFCT(m.super.DzoneTotal, idx)
	if err != nil {
		return err
	}

	block, err := m.loadFCTBlock(blockOffset)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(block[slot*refSize:], val)

	return m.storeFCTBlock(blockOffset, block)
}

// deplete walks the insertion cache from index 0 upward, appending every
// entry onto the FIFO tail, then empties the cache.
func (m *Mount) deplete() error {
	const op = "deplete"

	ins := &m.super.DzoneInsert
	for i := uint32(0); i < ins.CacheIdx; i++ {
		val := ins.Cache[i]
		if err := m.writeFCTSlot(m.super.TbFreeClustTail, val); err != nil {
			return sofserr.Wrap(op, sofserr.FctInvalid, err)
		}
		m.super.TbFreeClustTail = (m.super.TbFreeClustTail + 1) % m.super.DzoneTotal
		ins.Cache[i] = NullCluster
	}
	ins.CacheIdx = 0

	return m.storeSuperblock()
}

// replenish moves up to min(dzone_free, DzoneCacheSize) references from
// the FIFO head into the retrieval cache, depleting the insertion cache
// first if the FIFO runs dry mid-refill.
func (m *Mount) replenish() error {
	const op = "replenish"

	want := m.super.DzoneFree
	if want > DzoneCacheSize {
		want = DzoneCacheSize
	}

	retr := &m.super.DzoneRetriev
	var filled uint32

	for filled < want {
		if m.super.TbFreeClustHead == m.super.TbFreeClustTail {
			// FIFO exhausted; drain the insertion cache to resume.
			if m.super.DzoneInsert.CacheIdx == 0 {
				break
			}
			if err := m.deplete(); err != nil {
				return err
			}
			continue
		}

		val, err := m.readFCTSlot(m.super.TbFreeClustHead)
		if err != nil {
			return sofserr.Wrap(op, sofserr.FctInvalid, err)
		}
		if err := m.writeFCTSlot(m.super.TbFreeClustHead, NullCluster); err != nil {
			return sofserr.Wrap(op, sofserr.FctInvalid, err)
		}

		retr.Cache[DzoneCacheSize-filled-1] = val
		m.super.TbFreeClustHead = (m.super.TbFreeClustHead + 1) % m.super.DzoneTotal
		filled++
	}

	retr.CacheIdx = DzoneCacheSize - filled

	return m.storeSuperblock()
}

// AllocDataCluster returns a logical cluster number drawn from the
// retrieval cache, replenishing it from the FIFO first if necessary.
func (m *Mount) AllocDataCluster() (uint32, error) {
	const op = "AllocDataCluster"

	if m.super.DzoneFree == 0 {
		return 0, sofserr.New(op, sofserr.NoSpace)
	}

	if m.super.retrievEmpty() {
		if err := m.replenish(); err != nil {
			return 0, err
		}
	}

	retr := &m.super.DzoneRetriev
	nClust := retr.Cache[retr.CacheIdx]
	retr.CacheIdx++
	m.super.DzoneFree--

	if err := m.storeSuperblock(); err != nil {
		return 0, err
	}

	return nClust, nil
}

// FreeDataCluster returns nClust to the insertion cache, depleting it to
// the FIFO first if it is already full.
func (m *Mount) FreeDataCluster(nClust uint32) error {
	const op = "FreeDataCluster"

	if nClust == 0 || nClust >= m.super.DzoneTotal {
		return sofserr.New(op, sofserr.BadArgument)
	}

	if m.super.insertFull() {
		if err := m.deplete(); err != nil {
			return err
		}
	}

	ins := &m.super.DzoneInsert
	ins.Cache[ins.CacheIdx] = nClust
	ins.CacheIdx++
	m.super.DzoneFree++

	return m.storeSuperblock()
}

// AllocInode pops the head of the free-inode list, initialises it as a
// fresh inode of the given type owned by the mount's calling identity,
// and returns its number.
func (m *Mount) AllocInode(t InodeType) (uint32, error) {
	const op = "AllocInode"

	if m.super.Ifree == 0 {
		return 0, sofserr.New(op, sofserr.NoSpace)
	}

	head := m.super.Ihdtl
	headIno, err := m.fetchInode(head)
	if err != nil {
		return 0, err
	}
	if !headIno.isFree() {
		return 0, sofserr.New(op, sofserr.FreeInodeListInvalid)
	}

	prev, next := headIno.freeListPrev(), headIno.freeListNext()

	switch {
	case prev == head && next == head:
		// sole entry in the list
		m.super.Ihdtl = NullInode

	case next == prev:
		// exactly two entries: the remaining node becomes self-referential
		other, err := m.fetchInode(next)
		if err != nil {
			return 0, err
		}
		other.setFreeListPrev(next)
		other.setFreeListNext(next)
		if err := m.storeInodeRaw(next, other); err != nil {
			return 0, err
		}
		m.super.Ihdtl = next

	default:
		prevIno, err := m.fetchInode(prev)
		if err != nil {
			return 0, err
		}
		nextIno, err := m.fetchInode(next)
		if err != nil {
			return 0, err
		}
		prevIno.setFreeListNext(next)
		nextIno.setFreeListPrev(prev)
		if err := m.storeInodeRaw(prev, prevIno); err != nil {
			return 0, err
		}
		if err := m.storeInodeRaw(next, nextIno); err != nil {
			return 0, err
		}
		m.super.Ihdtl = next
	}

	ts := now()
	fresh := &Inode{
		Mode:     t.modeBit(),
		Refcount: 0,
		Owner:    m.uid,
		Group:    m.gid,
		Size:     0,
		Clucount: 0,
	}
	fresh.setAtime(ts)
	fresh.setMtime(ts)
	for i := range fresh.D {
		fresh.D[i] = NullCluster
	}
	fresh.I1 = NullCluster
	fresh.I2 = NullCluster

	if err := m.storeInodeRaw(head, fresh); err != nil {
		return 0, err
	}

	m.super.Ifree--
	if err := m.storeSuperblock(); err != nil {
		return 0, err
	}

	return head, nil
}

// FreeInode releases inode nInode back onto the tail of the free-inode
// list. The caller must have already brought refcount to zero and
// released every data cluster the inode referenced.
func (m *Mount) FreeInode(nInode uint32) error {
	const op = "FreeInode"

	if nInode == 0 {
		return sofserr.New(op, sofserr.BadArgument)
	}

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	if ino.isFree() {
		return sofserr.New(op, sofserr.InodeInUseInvalid)
	}
	if ino.Refcount != 0 {
		return sofserr.New(op, sofserr.InodeInUseInvalid)
	}
	if ino.Clucount != 0 || ino.I1 != NullCluster || ino.I2 != NullCluster {
		return sofserr.New(op, sofserr.InodeRefListInvalid)
	}
	for _, d := range ino.D {
		if d != NullCluster {
			return sofserr.New(op, sofserr.InodeRefListInvalid)
		}
	}

	freed := &Inode{Mode: ModeFree}

	if m.super.Ihdtl == NullInode {
		freed.setFreeListPrev(nInode)
		freed.setFreeListNext(nInode)
		m.super.Ihdtl = nInode
	} else {
		head, err := m.fetchInode(m.super.Ihdtl)
		if err != nil {
			return err
		}
		tail := head.freeListPrev()
		tailIno := head
		if tail != m.super.Ihdtl {
			tailIno, err = m.fetchInode(tail)
			if err != nil {
				return err
			}
		}

		freed.setFreeListPrev(tail)
		freed.setFreeListNext(m.super.Ihdtl)

		tailIno.setFreeListNext(nInode)
		if err := m.storeInodeRaw(tail, tailIno); err != nil {
			return err
		}

		head.setFreeListPrev(nInode)
		if err := m.storeInodeRaw(m.super.Ihdtl, head); err != nil {
			return err
		}
	}

	if err := m.storeInodeRaw(nInode, freed); err != nil {
		return err
	}

	m.super.Ifree++
	return m.storeSuperblock()
}
