package sofs

import "github.com/rothixz/sofs/internal/sofserr"

// This file implements C8, the consistency checker. Check is run at mount
// time (and is the engine fsck-sofs drives standalone) and walks every
// structure the engine maintains incrementally, re-deriving the
// disjoint-partition invariants from scratch rather than trusting the
// superblock's own bookkeeping fields.

// Check validates the mounted volume's metadata: the superblock header,
// the inode table's internal consistency, the free-inode list, the
// data-zone disjoint-partition invariant (every cluster reachable from
// exactly one in-use inode or free, never both, never neither), and every
// in-use directory's "." / ".." entries.
func (m *Mount) Check() error {
	if err := m.checkSuperblock(); err != nil {
		return err
	}

	inUse, err := m.checkInodeTable()
	if err != nil {
		return err
	}

	if err := m.checkFreeInodeList(); err != nil {
		return err
	}

	if err := m.checkDataZone(inUse); err != nil {
		return err
	}

	return m.checkDirectories(inUse)
}

// checkSuperblock (qCheckSuperBlock) validates the header fields and the
// bounds of every pointer/size the rest of the checker relies on.
func (m *Mount) checkSuperblock() error {
	const op = "qCheckSuperBlock"

	s := m.super
	switch {
	case s.Magic != magicNumber:
		return sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	case s.Version != versionNumber:
		return sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	case s.Itotal == 0 || s.DzoneTotal == 0:
		return sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	case s.Ifree > s.Itotal:
		return sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	case s.DzoneFree >= s.DzoneTotal:
		return sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	case s.Ihdtl != NullInode && s.Ihdtl >= s.Itotal:
		return sofserr.New(op, sofserr.FreeInodeListInvalid)
	case s.TbFreeClustHead >= s.DzoneTotal || s.TbFreeClustTail >= s.DzoneTotal:
		return sofserr.New(op, sofserr.FctInvalid)
	case s.DzoneRetriev.CacheIdx > DzoneCacheSize:
		return sofserr.New(op, sofserr.FreeCacheInvalid)
	case s.DzoneInsert.CacheIdx > DzoneCacheSize:
		return sofserr.New(op, sofserr.FreeCacheInvalid)
	}

	return nil
}

// checkInodeTable (qCheckInT) scans every slot, requiring exactly one type
// bit set for in-use inodes and none for free ones, and that the free
// count matches Ifree. It returns the decoded in-use inodes, which the
// remaining checks reuse instead of rescanning the table.
func (m *Mount) checkInodeTable() (map[uint32]*Inode, error) {
	const op = "qCheckInT"

	inUse := make(map[uint32]*Inode)
	var freeCount uint32

	for n := uint32(0); n < m.super.Itotal; n++ {
		ino, err := m.fetchInode(n)
		if err != nil {
			return nil, err
		}

		typeBits := 0
		for _, bit := range [...]uint16{ModeDirectory, ModeRegular, ModeSymlink} {
			if ino.Mode&bit != 0 {
				typeBits++
			}
		}

		switch {
		case ino.isFree():
			if typeBits != 0 {
				return nil, sofserr.New(op, sofserr.InodeTableInvalid)
			}
			freeCount++
		default:
			if typeBits != 1 {
				return nil, sofserr.New(op, sofserr.InodeTableInvalid)
			}
			inUse[n] = ino
		}
	}

	if freeCount != m.super.Ifree {
		return nil, sofserr.New(op, sofserr.InodeTableInvalid)
	}

	root, ok := inUse[RootInode]
	if !ok || root.inodeType() != TypeDirectory {
		return nil, sofserr.New(op, sofserr.InodeTableInvalid)
	}

	return inUse, nil
}

// checkFreeInodeList (qCheckFInode) walks the circular doubly-linked free
// list from Ihdtl, verifying every node is marked free, the prev/next
// pointers agree, and the list length equals Ifree.
func (m *Mount) checkFreeInodeList() error {
	const op = "qCheckFInode"

	if m.super.Ifree == 0 {
		if m.super.Ihdtl != NullInode {
			return sofserr.New(op, sofserr.FreeInodeListInvalid)
		}
		return nil
	}
	if m.super.Ihdtl == NullInode {
		return sofserr.New(op, sofserr.FreeInodeListInvalid)
	}

	visited := make(map[uint32]bool, m.super.Ifree)
	cur := m.super.Ihdtl
	prevExpected := uint32(0)
	havePrev := false
	var count uint32

	for {
		if visited[cur] {
			return sofserr.New(op, sofserr.FreeInodeListInvalid)
		}
		ino, err := m.fetchInode(cur)
		if err != nil {
			return err
		}
		if !ino.isFree() {
			return sofserr.New(op, sofserr.FreeInodeInvalid)
		}
		if havePrev && ino.freeListPrev() != prevExpected {
			return sofserr.New(op, sofserr.FreeInodeListInvalid)
		}

		visited[cur] = true
		count++
		prevExpected, havePrev = cur, true

		cur = ino.freeListNext()
		if cur == m.super.Ihdtl {
			break
		}
		if count > m.super.Ifree {
			return sofserr.New(op, sofserr.FreeInodeListInvalid)
		}
	}

	head, err := m.fetchInode(m.super.Ihdtl)
	if err != nil {
		return err
	}
	if head.freeListPrev() != prevExpected {
		return sofserr.New(op, sofserr.FreeInodeListInvalid)
	}
	if count != m.super.Ifree {
		return sofserr.New(op, sofserr.FreeInodeListInvalid)
	}

	return nil
}

// walkInodeClusters returns every cluster number owned by ino: its direct
// slots, its indirection clusters, and the data clusters those indirection
// clusters point to.
func (m *Mount) walkInodeClusters(ino *Inode) ([]uint32, error) {
	var out []uint32

	for _, d := range ino.D {
		if d != NullCluster {
			out = append(out, d)
		}
	}

	if ino.I1 != NullCluster {
		out = append(out, ino.I1)
		buf, err := m.readCluster(ino.I1)
		if err != nil {
			return nil, err
		}
		for _, v := range decodeRefCluster(buf) {
			if v != NullCluster {
				out = append(out, v)
			}
		}
	}

	if ino.I2 != NullCluster {
		out = append(out, ino.I2)
		outerBuf, err := m.readCluster(ino.I2)
		if err != nil {
			return nil, err
		}
		for _, sref := range decodeRefCluster(outerBuf) {
			if sref == NullCluster {
				continue
			}
			out = append(out, sref)
			innerBuf, err := m.readCluster(sref)
			if err != nil {
				return nil, err
			}
			for _, v := range decodeRefCluster(innerBuf) {
				if v != NullCluster {
					out = append(out, v)
				}
			}
		}
	}

	return out, nil
}

// checkDataZone (qCheckDZ / qCheckStatDC / qCheckLRDC combined) re-derives
// the disjoint partition of [0, dzone_total) into "reachable from some
// in-use inode" and "free" (retrieval cache, insertion cache, or circular
// FIFO), failing if any cluster is claimed twice or not claimed at all.
func (m *Mount) checkDataZone(inUse map[uint32]*Inode) error {
	const op = "qCheckDZ"

	total := m.super.DzoneTotal
	const (
		stUnknown byte = iota
		stReachable
		stFree
	)
	state := make([]byte, total)

	mark := func(n uint32, st byte, kind sofserr.Kind) error {
		if n >= total {
			return sofserr.New(op, kind)
		}
		if state[n] != stUnknown {
			return sofserr.New(op, sofserr.DataZoneInvalid)
		}
		state[n] = st
		return nil
	}

	var clucountSum uint32
	for _, ino := range inUse {
		clucountSum += ino.Clucount
		clusters, err := m.walkInodeClusters(ino)
		if err != nil {
			return err
		}
		for _, c := range clusters {
			if err := mark(c, stReachable, sofserr.ClusterNotAllocated); err != nil {
				return err
			}
		}
	}

	if total == 0 || state[0] != stReachable {
		return sofserr.New(op, sofserr.DataZoneInvalid)
	}
	// Every allocated cluster, cluster 0 included (the root's Clucount
	// counts it), is counted by exactly one in-use inode's Clucount.
	if expect := total - m.super.DzoneFree; clucountSum != expect {
		return sofserr.New(op, sofserr.DataZoneInvalid)
	}

	retr := m.super.DzoneRetriev
	for i := retr.CacheIdx; i < DzoneCacheSize; i++ {
		if err := mark(retr.Cache[i], stFree, sofserr.FreeCacheInvalid); err != nil {
			return err
		}
	}
	ins := m.super.DzoneInsert
	for i := uint32(0); i < ins.CacheIdx; i++ {
		if err := mark(ins.Cache[i], stFree, sofserr.FreeCacheInvalid); err != nil {
			return err
		}
	}

	retrievFilled := DzoneCacheSize - retr.CacheIdx
	insertFilled := ins.CacheIdx
	if retrievFilled+insertFilled > m.super.DzoneFree {
		return sofserr.New(op, sofserr.FreeCacheInvalid)
	}
	fifoCount := m.super.DzoneFree - retrievFilled - insertFilled

	idx := m.super.TbFreeClustHead
	for i := uint32(0); i < fifoCount; i++ {
		val, err := m.readFCTSlot(idx)
		if err != nil {
			return err
		}
		if err := mark(val, stFree, sofserr.FctInvalid); err != nil {
			return err
		}
		idx = (idx + 1) % total
	}
	if idx != m.super.TbFreeClustTail {
		return sofserr.New(op, sofserr.FctInvalid)
	}

	var reachableCount, freeCount uint32
	for _, st := range state {
		switch st {
		case stReachable:
			reachableCount++
		case stFree:
			freeCount++
		default:
			return sofserr.New(op, sofserr.DataZoneInvalid)
		}
	}
	if freeCount != m.super.DzoneFree || reachableCount != total-m.super.DzoneFree {
		return sofserr.New(op, sofserr.DataZoneInvalid)
	}

	return nil
}

// checkDirectories (qCheckDirCont / qCheckInodeIU) verifies that every
// in-use directory's slot 0 is "." pointing at itself and slot 1 is ".."
// pointing at some in-use directory.
func (m *Mount) checkDirectories(inUse map[uint32]*Inode) error {
	const op = "qCheckDirCont"

	for n, ino := range inUse {
		if ino.inodeType() != TypeDirectory {
			continue
		}
		if ino.Clucount == 0 || ino.D[0] == NullCluster {
			return sofserr.New(op, sofserr.DirInvalid)
		}

		buf, err := m.readCluster(ino.D[0])
		if err != nil {
			return err
		}

		dot := dentryView(buf[0:dentrySize])
		dotdot := dentryView(buf[dentrySize : 2*dentrySize])

		if !dot.inUse() || dot.name() != "." || dot.nInode() != n {
			return sofserr.New(op, sofserr.DirEntryInvalid)
		}
		if !dotdot.inUse() || dotdot.name() != ".." {
			return sofserr.New(op, sofserr.DirEntryInvalid)
		}
		if n == RootInode && dotdot.nInode() != RootInode {
			return sofserr.New(op, sofserr.DirEntryInvalid)
		}

		parent, ok := inUse[dotdot.nInode()]
		if !ok || parent.inodeType() != TypeDirectory {
			return sofserr.New(op, sofserr.DirEntryInvalid)
		}
	}

	return nil
}
