// Package sofs implements the on-disk metadata engine of SOFS: the
// block-buffered storage abstraction, the inode and data-cluster
// allocators, the indirect-block addressing scheme, the directory-entry
// machinery, and the consistency checker.
package sofs

import "github.com/rothixz/sofs/internal/sofserr"

// Fixed geometry constants. A real deployment would let the formatter
// negotiate some of these against the backing device; SOFS fixes them at
// compile time, as representative values consistent with the course
// implementation this engine is modelled on.
const (
	BlockSize        = 512
	BlocksPerCluster = 4
	ClusterSize      = BlockSize * BlocksPerCluster // 2048

	refSize = 4 // bytes per on-disk cluster reference (uint32)
	RPB     = BlockSize / refSize   // references per block
	RPC     = ClusterSize / refSize // references per cluster

	InodeSize = 128
	IPB       = BlockSize / InodeSize // inodes per block

	MaxName = 59
	dentrySize = MaxName + 1 + 4 // name + NUL, then inode number
	DPC        = ClusterSize / dentrySize

	MaxPath = 255

	NDirect = 12

	DzoneCacheSize = 50

	MaxFileClusters = NDirect + RPC + RPC*RPC
	MaxFileSize     = MaxFileClusters * ClusterSize
)

// Sentinel logical/physical values.
const (
	NullInode   uint32 = 1<<32 - 1
	NullCluster uint32 = 1<<32 - 1

	// fctSentinel marks an FCT slot that is past dzone_free at format
	// time and holds no free reference; it is distinct from NullCluster,
	// which marks a slot whose reference has been taken out of the FIFO.
	// The consistency checker reads only the slots from head to tail and
	// inspects neither marker.
	fctSentinel uint32 = 1<<32 - 2
)

// mstat values.
const (
	cleanlyUnmounted    uint32 = 0
	notCleanlyUnmounted uint32 = 1
)

const magicNumber uint32 = 0x65FE
const versionNumber uint32 = 0x1

// divide is ceiling integer division; align rounds a up to a multiple of b.
func divide(a, b int64) int64 {
	return (a + b - 1) / b
}

func align(a, b int64) int64 {
	return divide(a, b) * b
}

// convertRefInT maps an inode number to its (block offset within the
// inode table, slot within that block).
func convertRefInT(itotal, nInode uint32) (blockOffset, slot int64, err error) {
	if nInode >= itotal {
		return 0, 0, sofserr.New("convertRefInT", sofserr.OutOfRange)
	}
	blockOffset = int64(nInode) / IPB
	slot = int64(nInode) % IPB
	return blockOffset, slot, nil
}

// convertRefFCT maps a free-cluster-table slot index to its (block offset
// within the FCT, slot within that block).
func convertRefFCT(fctLen uint32, idx uint32) (blockOffset, slot int64, err error) {
	if idx >= fctLen {
		return 0, 0, sofserr.New("convertRefFCT", sofserr.OutOfRange)
	}
	blockOffset = int64(idx) / RPB
	slot = int64(idx) % RPB
	return blockOffset, slot, nil
}

// convertBPIDC maps a byte position within a file into (cluster index,
// offset within that cluster).
func convertBPIDC(pos int64) (clusterIndex int64, offset int64) {
	return pos / ClusterSize, pos % ClusterSize
}
