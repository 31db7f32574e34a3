package sofs

import (
	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
	"github.com/rothixz/sofs/internal/sofserr"
)

// Format initialises an empty volume on dev (C3): it solves the layout
// equation for the inode table and free-cluster table sizes, writes a
// superblock whose magic is still a placeholder, writes a populated root
// directory inode and cluster, builds the circular doubly-linked
// free-inode list and the free-cluster FIFO, optionally zero-fills the
// rest of the data zone, self-checks the result, and only then rewrites
// the superblock with the real magic number -- a format that stops before
// that last write leaves a header Mount's magic check rejects, even on a
// device that held an earlier SOFS volume.
func Format(dev blockdev.Device, opts FormatOptions, logger slog.Logger) error {
	const op = "Format"
	const unformattedMagic uint32 = 0xFFFF

	if logger == nil {
		logger = slog.Default
	}
	if dev.BlockSize() != BlockSize {
		return sofserr.New(op, sofserr.BadArgument)
	}

	totalBlocks := dev.Blocks()
	if totalBlocks < 4 {
		return sofserr.New(op, sofserr.NoSpace)
	}

	opts = opts.WithDefaults(totalBlocks)
	if err := opts.Validate(); err != nil {
		return err
	}

	itableStart := int64(1)
	itableSize := divide(int64(opts.NumInodes), IPB)

	remaining := totalBlocks - itableStart - itableSize
	if remaining < BlocksPerCluster {
		return sofserr.New(op, sofserr.NoSpace)
	}

	dzoneTotal := remaining / BlocksPerCluster
	for {
		fctBlocks := divide(dzoneTotal*refSize, BlockSize)
		avail := remaining - fctBlocks
		if avail < 0 {
			dzoneTotal--
			continue
		}
		next := avail / BlocksPerCluster
		if next == dzoneTotal {
			break
		}
		dzoneTotal = next
	}
	if dzoneTotal < 2 {
		return sofserr.New(op, sofserr.NoSpace)
	}

	fctBlocks := divide(dzoneTotal*refSize, BlockSize)
	fctStart := itableStart + itableSize
	dzoneStart := fctStart + fctBlocks
	if dzoneStart+dzoneTotal*BlocksPerCluster > totalBlocks {
		return sofserr.New(op, sofserr.NoSpace)
	}

	m := &Mount{dev: dev, log: logger}
	m.super = &Superblock{
		Magic:   unformattedMagic,
		Version: versionNumber,
		Ntotal:  uint32(totalBlocks),
		Mstat:   cleanlyUnmounted,

		ItableStart: uint32(itableStart),
		ItableSize:  uint32(itableSize),
		Itotal:      opts.NumInodes,

		TbFreeClustStart: uint32(fctStart),
		TbFreeClustSize:  uint32(fctBlocks),

		DzoneStart: uint32(dzoneStart),
		DzoneTotal: uint32(dzoneTotal),
	}
	if err := m.super.setVolumeName(opts.VolumeName); err != nil {
		return err
	}
	// Caches start empty; the first AllocDataCluster call replenishes the
	// retrieval cache straight from the FIFO built below.
	m.super.DzoneRetriev.CacheIdx = DzoneCacheSize
	m.super.DzoneInsert.CacheIdx = 0

	// The header goes out first with the placeholder magic, replacing any
	// earlier volume's header before the tables below are overwritten.
	if err := m.storeSuperblock(); err != nil {
		return err
	}

	if err := m.formatInodeTable(); err != nil {
		return err
	}
	if err := m.formatFreeClusterTable(); err != nil {
		return err
	}
	if err := m.formatRootCluster(); err != nil {
		return err
	}
	if opts.ZeroFill {
		if err := m.zeroFillDataZone(); err != nil {
			return err
		}
	}

	m.super.Magic = magicNumber
	if err := m.Check(); err != nil {
		return err
	}

	if err := m.storeSuperblock(); err != nil {
		return err
	}

	logger.Infof("formatted volume %q: %d inodes, %d data clusters", opts.VolumeName, opts.NumInodes, dzoneTotal)
	return nil
}

// formatInodeTable writes inode 0 as the populated root directory and
// chains every other inode into a circular doubly-linked free list.
func (m *Mount) formatInodeTable() error {
	ts := now()
	root := &Inode{
		Mode:     ModeDirectory | ModePermMask,
		Refcount: 2,
		Owner:    0,
		Group:    0,
		Size:     ClusterSize,
		// clucount counts cluster 0, which the formatter wires directly
		// into D[0] rather than obtaining it through AllocDataCluster, and
		// which is never freed (see checkDataZone's clucount identity).
		Clucount: 1,
		I1:       NullCluster,
		I2:       NullCluster,
	}
	root.setAtime(ts)
	root.setMtime(ts)
	for i := range root.D {
		root.D[i] = NullCluster
	}
	root.D[0] = 0
	if err := m.storeInodeRaw(RootInode, root); err != nil {
		return err
	}

	itotal := m.super.Itotal
	if itotal < 2 {
		m.super.Ihdtl = NullInode
		m.super.Ifree = 0
		return nil
	}

	for n := uint32(1); n < itotal; n++ {
		prev := n - 1
		if prev == 0 {
			prev = itotal - 1
		}
		next := n + 1
		if next == itotal {
			next = 1
		}

		free := &Inode{Mode: ModeFree}
		free.setFreeListPrev(prev)
		free.setFreeListNext(next)
		if err := m.storeInodeRaw(n, free); err != nil {
			return err
		}
	}

	m.super.Ihdtl = 1
	m.super.Ifree = itotal - 1
	return nil
}

// formatFreeClusterTable queues every cluster but 0 onto the circular FCT
// FIFO in ascending order: slot 0 holds NullCluster, slot i holds cluster
// i for i in [1, dzone_free], any slot past dzone_free holds fctSentinel,
// and head=1/tail=0.
func (m *Mount) formatFreeClusterTable() error {
	total := m.super.DzoneTotal
	free := total - 1

	if err := m.writeFCTSlot(0, NullCluster); err != nil {
		return err
	}
	for i := uint32(1); i < total; i++ {
		val := i
		if i > free {
			val = fctSentinel
		}
		if err := m.writeFCTSlot(i, val); err != nil {
			return err
		}
	}

	m.super.TbFreeClustHead = 1
	m.super.TbFreeClustTail = 0
	m.super.DzoneFree = free
	return nil
}

func (m *Mount) formatRootCluster() error {
	buf := make([]byte, ClusterSize)
	dentryView(buf[0:dentrySize]).setNameInode(".", RootInode)
	dentryView(buf[dentrySize:2*dentrySize]).setNameInode("..", RootInode)
	return m.writeCluster(0, buf)
}

func (m *Mount) zeroFillDataZone() error {
	zero := make([]byte, ClusterSize)
	for c := uint32(1); c < m.super.DzoneTotal; c++ {
		if err := m.writeCluster(c, zero); err != nil {
			return err
		}
	}
	return nil
}
