package sofs

import "github.com/rothixz/sofs/internal/sofserr"

// This file holds the generic load/store bracket machinery (C2): reading
// a single block of the inode table, the free-cluster table, or an
// indirect-reference cluster into the mount context's "currently loaded"
// slot, mutating it in place, and flushing it back through blockdev. Only
// one load may be outstanding per slot at a time; storing without a
// matching load, or loading a second block before storing the first, is
// reported as NotLoaded.

func (m *Mount) loadSlot(slot *loadedBlock, op string, physicalBlock, logicalBlock int64) ([]byte, error) {
	if slot.loaded {
		return nil, sofserr.New(op, sofserr.NotLoaded)
	}

	buf, err := m.dev.ReadBlock(physicalBlock)
	if err != nil {
		return nil, sofserr.Wrap(op, sofserr.IoError, err)
	}

	slot.loaded = true
	slot.block = logicalBlock
	slot.buf = buf

	return buf, nil
}

func (m *Mount) storeSlot(slot *loadedBlock, op string, physicalBlock, logicalBlock int64, buf []byte) error {
	if !slot.loaded || slot.block != logicalBlock {
		return sofserr.New(op, sofserr.NotLoaded)
	}
	if len(buf) != BlockSize {
		return sofserr.New(op, sofserr.BadArgument)
	}

	if err := m.dev.WriteBlock(physicalBlock, buf); err != nil {
		return sofserr.Wrap(op, sofserr.IoError, err)
	}

	slot.reset()
	return nil
}

// loadITBlock brings inode-table block blockOffset (0-based, relative to
// itable_start) into the mount context.
func (m *Mount) loadITBlock(blockOffset int64) ([]byte, error) {
	physical := int64(m.super.ItableStart) + blockOffset
	return m.loadSlot(&m.itBlock, "loadITBlock", physical, blockOffset)
}

func (m *Mount) storeITBlock(blockOffset int64, buf []byte) error {
	physical := int64(m.super.ItableStart) + blockOffset
	return m.storeSlot(&m.itBlock, "storeITBlock", physical, blockOffset, buf)
}

// loadFCTBlock brings free-cluster-table block blockOffset into the mount
// context.
func (m *Mount) loadFCTBlock(blockOffset int64) ([]byte, error) {
	physical := int64(m.super.TbFreeClustStart) + blockOffset
	return m.loadSlot(&m.fctBlock, "loadFCTBlock", physical, blockOffset)
}

func (m *Mount) storeFCTBlock(blockOffset int64, buf []byte) error {
	physical := int64(m.super.TbFreeClustStart) + blockOffset
	return m.storeSlot(&m.fctBlock, "storeFCTBlock", physical, blockOffset, buf)
}

// clusterPhysicalBlock returns the first physical block of logical
// cluster nClust.
func (m *Mount) clusterPhysicalBlock(nClust uint32) int64 {
	return int64(m.super.DzoneStart) + int64(nClust)*BlocksPerCluster
}

// loadCluster reads a full cluster (BlocksPerCluster consecutive blocks)
// into a single ClusterSize buffer via slot's bracket.
func (m *Mount) loadCluster(slot *loadedBlock, op string, nClust uint32) ([]byte, error) {
	if slot.loaded {
		return nil, sofserr.New(op, sofserr.NotLoaded)
	}
	if nClust >= m.super.DzoneTotal {
		return nil, sofserr.New(op, sofserr.OutOfRange)
	}

	start := m.clusterPhysicalBlock(nClust)
	buf := make([]byte, 0, ClusterSize)
	for b := int64(0); b < BlocksPerCluster; b++ {
		block, err := m.dev.ReadBlock(start + b)
		if err != nil {
			return nil, sofserr.Wrap(op, sofserr.IoError, err)
		}
		buf = append(buf, block...)
	}

	slot.loaded = true
	slot.block = int64(nClust)
	slot.buf = buf

	return buf, nil
}

func (m *Mount) storeCluster(slot *loadedBlock, op string, nClust uint32, buf []byte) error {
	if !slot.loaded || slot.block != int64(nClust) {
		return sofserr.New(op, sofserr.NotLoaded)
	}
	if len(buf) != ClusterSize {
		return sofserr.New(op, sofserr.BadArgument)
	}

	start := m.clusterPhysicalBlock(nClust)
	for b := int64(0); b < BlocksPerCluster; b++ {
		lo, hi := b*BlockSize, (b+1)*BlockSize
		if err := m.dev.WriteBlock(start+b, buf[lo:hi]); err != nil {
			return sofserr.Wrap(op, sofserr.IoError, err)
		}
	}

	slot.reset()
	return nil
}

// readCluster is a load/store-free convenience read used by callers that
// just want the bytes without holding a bracket open (e.g. directory scans
// and file data reads, which never mutate the cluster in place).
func (m *Mount) readCluster(nClust uint32) ([]byte, error) {
	const op = "readCluster"

	if nClust >= m.super.DzoneTotal {
		return nil, sofserr.New(op, sofserr.OutOfRange)
	}

	start := m.clusterPhysicalBlock(nClust)
	buf := make([]byte, 0, ClusterSize)
	for b := int64(0); b < BlocksPerCluster; b++ {
		block, err := m.dev.ReadBlock(start + b)
		if err != nil {
			return nil, sofserr.Wrap(op, sofserr.IoError, err)
		}
		buf = append(buf, block...)
	}
	return buf, nil
}

// writeCluster is the write counterpart of readCluster.
func (m *Mount) writeCluster(nClust uint32, buf []byte) error {
	const op = "writeCluster"

	if nClust >= m.super.DzoneTotal {
		return sofserr.New(op, sofserr.OutOfRange)
	}
	if len(buf) != ClusterSize {
		return sofserr.New(op, sofserr.BadArgument)
	}

	start := m.clusterPhysicalBlock(nClust)
	for b := int64(0); b < BlocksPerCluster; b++ {
		lo, hi := b*BlockSize, (b+1)*BlockSize
		if err := m.dev.WriteBlock(start+b, buf[lo:hi]); err != nil {
			return sofserr.Wrap(op, sofserr.IoError, err)
		}
	}
	return nil
}
