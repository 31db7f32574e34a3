package sofs

import (
	"bytes"
	"encoding/binary"

	"github.com/rothixz/sofs/internal/sofserr"
)

// fCNode is one of the two small reference caches that front the
// free-cluster-table FIFO: the retrieval cache (cache_idx is the index of
// the next entry to hand out and climbs to DzoneCacheSize, meaning empty,
// as entries are consumed) and the insertion cache (cache_idx counts up
// from 0 as entries accumulate).
type fCNode struct {
	CacheIdx uint32
	Cache    [DzoneCacheSize]uint32
}

// Superblock is the structure of the single superblock block, physical
// block 0. All multi-byte fields are little-endian on disk.
type Superblock struct {
	Magic   uint32
	Version uint32
	Name    [24]byte // 23 usable bytes + NUL
	Ntotal  uint32
	Mstat   uint32

	ItableStart uint32
	ItableSize  uint32
	Itotal      uint32
	Ifree       uint32
	Ihdtl       uint32

	DzoneRetriev fCNode
	DzoneInsert  fCNode

	TbFreeClustStart uint32
	TbFreeClustSize  uint32
	TbFreeClustHead  uint32
	TbFreeClustTail  uint32

	DzoneStart uint32
	DzoneTotal uint32
	DzoneFree  uint32
}

// retrievEmpty reports whether the retrieval cache has nothing left to
// hand out: cache_idx has reached the capacity.
func (s *Superblock) retrievEmpty() bool {
	return s.DzoneRetriev.CacheIdx == DzoneCacheSize
}

// insertFull reports whether the insertion cache has no room left.
func (s *Superblock) insertFull() bool {
	return s.DzoneInsert.CacheIdx == DzoneCacheSize
}

func (s *Superblock) insertEmpty() bool {
	return s.DzoneInsert.CacheIdx == 0
}

// VolumeName returns the NUL-terminated name field as a Go string.
func (s *Superblock) VolumeName() string {
	i := bytes.IndexByte(s.Name[:], 0)
	if i < 0 {
		i = len(s.Name)
	}
	return string(s.Name[:i])
}

func (s *Superblock) setVolumeName(name string) error {
	if len(name) > 23 {
		return sofserr.New("setVolumeName", sofserr.NameTooLong)
	}
	var buf [24]byte
	copy(buf[:], name)
	s.Name = buf
	return nil
}

func encodeSuperblock(s *Superblock) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, sofserr.Wrap("encodeSuperblock", sofserr.LibraryBad, err)
	}
	out := make([]byte, BlockSize)
	copy(out, buf.Bytes())
	return out, nil
}

func decodeSuperblock(block []byte) (*Superblock, error) {
	s := &Superblock{}
	if err := binary.Read(bytes.NewReader(block), binary.LittleEndian, s); err != nil {
		return nil, sofserr.Wrap("decodeSuperblock", sofserr.LibraryBad, err)
	}
	return s, nil
}

// loadSuperblock reads and decodes the superblock from physical block 0
// (C2 load half of the load/store bracket).
func (m *Mount) loadSuperblock() error {
	const op = "loadSuperblock"

	block, err := m.dev.ReadBlock(0)
	if err != nil {
		return sofserr.Wrap(op, sofserr.IoError, err)
	}

	sb, err := decodeSuperblock(block)
	if err != nil {
		return err
	}

	m.super = sb
	return nil
}

// storeSuperblock flushes the in-memory superblock back to physical block
// 0 (C2 store half of the load/store bracket).
func (m *Mount) storeSuperblock() error {
	const op = "storeSuperblock"

	if m.super == nil {
		return sofserr.New(op, sofserr.NotLoaded)
	}

	block, err := encodeSuperblock(m.super)
	if err != nil {
		return err
	}

	if err := m.dev.WriteBlock(0, block); err != nil {
		return sofserr.Wrap(op, sofserr.IoError, err)
	}

	return nil
}
