package sofs

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/rothixz/sofs/internal/sofserr"
)

// Mode bits. Exactly one of the three type bits is set at any time; a
// free inode has all three clear and the Free bit set, and vice versa.
const (
	ModePermMask = 0777

	ModeDirectory = 1 << 12
	ModeRegular   = 1 << 13
	ModeSymlink   = 1 << 14
	ModeFree      = 1 << 15

	ModeTypeMask = ModeDirectory | ModeRegular | ModeSymlink
)

// InodeType identifies what kind of file an inode describes.
type InodeType int

const (
	TypeDirectory InodeType = iota
	TypeRegular
	TypeSymlink
)

func (t InodeType) modeBit() uint16 {
	switch t {
	case TypeDirectory:
		return ModeDirectory
	case TypeSymlink:
		return ModeSymlink
	default:
		return ModeRegular
	}
}

// Access permission bits, reused across accessGranted and the mode field.
const (
	PermR = 04
	PermW = 02
	PermX = 01
)

// Inode is the fixed-size on-disk inode record. VD1/VD2 are the overlaid
// fields from the design: while the inode is free they carry the
// prev/next pointers of the free-inode list; while in use they carry
// atime/mtime. The discriminator is the Free bit of Mode -- see the
// freeListPrev/freeListNext and atime/mtime accessors below, which give
// the two views of the raw union; the on-disk bytes are identical either
// way.
type Inode struct {
	Mode     uint16
	Refcount uint16
	Owner    uint16
	Group    uint16
	Size     uint32
	Clucount uint32
	VD1      uint32
	VD2      uint32
	D        [NDirect]uint32
	I1       uint32
	I2       uint32
	_        [InodeSize - 2*4 - 4*4 - NDirect*4 - 2*4]byte
}

func (ino *Inode) isFree() bool { return ino.Mode&ModeFree != 0 }

func (ino *Inode) inodeType() InodeType {
	switch ino.Mode & ModeTypeMask {
	case ModeDirectory:
		return TypeDirectory
	case ModeSymlink:
		return TypeSymlink
	default:
		return TypeRegular
	}
}

// freeListPrev/freeListNext view VD1/VD2 as the doubly-linked free-inode
// list pointers. Only meaningful while isFree() is true.
func (ino *Inode) freeListPrev() uint32    { return ino.VD1 }
func (ino *Inode) freeListNext() uint32    { return ino.VD2 }
func (ino *Inode) setFreeListPrev(v uint32) { ino.VD1 = v }
func (ino *Inode) setFreeListNext(v uint32) { ino.VD2 = v }

// atime/mtime view VD1/VD2 as Unix timestamps. Only meaningful while
// isFree() is false.
func (ino *Inode) atime() int64      { return int64(ino.VD1) }
func (ino *Inode) mtime() int64      { return int64(ino.VD2) }
func (ino *Inode) setAtime(t int64)  { ino.VD1 = uint32(t) }
func (ino *Inode) setMtime(t int64)  { ino.VD2 = uint32(t) }

func now() int64 { return time.Now().Unix() }

func encodeInode(ino *Inode) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, ino); err != nil {
		return nil, sofserr.Wrap("encodeInode", sofserr.LibraryBad, err)
	}
	return buf.Bytes(), nil
}

func decodeInode(raw []byte) (*Inode, error) {
	ino := &Inode{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, ino); err != nil {
		return nil, sofserr.Wrap("decodeInode", sofserr.LibraryBad, err)
	}
	return ino, nil
}

// fetchInode reads inode nInode from the table regardless of its in-use
// state, bracketing a single IT block load/store around the access.
func (m *Mount) fetchInode(nInode uint32) (*Inode, error) {
	blockOffset, slot, err := convertRefInT(m.super.Itotal, nInode)
	if err != nil {
		return nil, err
	}

	block, err := m.loadITBlock(blockOffset)
	if err != nil {
		return nil, err
	}

	raw := block[slot*InodeSize : (slot+1)*InodeSize]
	ino, err := decodeInode(raw)
	if err != nil {
		m.itBlock.reset()
		return nil, err
	}

	if err := m.storeITBlock(blockOffset, block); err != nil {
		return nil, sofserr.Wrap("fetchInode", sofserr.IoError, err)
	}

	return ino, nil
}

// storeInodeRaw writes ino back into its slot of the inode table.
func (m *Mount) storeInodeRaw(nInode uint32, ino *Inode) error {
	const op = "storeInodeRaw"

	blockOffset, slot, err := convertRefInT(m.super.Itotal, nInode)
	if err != nil {
		return err
	}

	block, err := m.loadITBlock(blockOffset)
	if err != nil {
		return err
	}

	raw, err := encodeInode(ino)
	if err != nil {
		m.itBlock.reset()
		return err
	}
	copy(block[slot*InodeSize:(slot+1)*InodeSize], raw)

	if err := m.storeITBlock(blockOffset, block); err != nil {
		return sofserr.Wrap(op, sofserr.IoError, err)
	}

	return nil
}

// ReadInode returns a copy of inode nInode, requiring it to be in use,
// and bumps its access time (C5 readInode).
func (m *Mount) ReadInode(nInode uint32) (*Inode, error) {
	const op = "ReadInode"

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return nil, err
	}
	if ino.isFree() {
		return nil, sofserr.New(op, sofserr.InodeInUseInvalid)
	}

	ino.setAtime(now())
	if err := m.storeInodeRaw(nInode, ino); err != nil {
		return nil, err
	}

	out := *ino
	return &out, nil
}

// WriteInode copies ino over the on-disk record at slot nInode, requiring
// the slot to be in use, then stamps atime/mtime (C5 writeInode).
func (m *Mount) WriteInode(nInode uint32, ino *Inode) error {
	const op = "WriteInode"

	existing, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	if existing.isFree() {
		return sofserr.New(op, sofserr.InodeInUseInvalid)
	}

	cp := *ino
	t := now()
	cp.setAtime(t)
	cp.setMtime(t)

	return m.storeInodeRaw(nInode, &cp)
}

// AccessGranted checks whether the calling process (identified by the
// mount's uid/gid) holds every permission bit in op against inode
// nInode's mode (C5 accessGranted).
func (m *Mount) AccessGranted(nInode uint32, op uint8) error {
	const errOp = "AccessGranted"

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	if ino.isFree() {
		return sofserr.New(errOp, sofserr.InodeInUseInvalid)
	}

	if m.uid == 0 && m.gid == 0 {
		// root always gets read/write; execute requires some execute bit set
		if op&PermX != 0 {
			anyExec := uint16(PermX | PermX<<3 | PermX<<6)
			if ino.Mode&anyExec == 0 {
				return sofserr.New(errOp, sofserr.AccessDenied)
			}
		}
		return nil
	}

	var class uint16
	switch {
	case uint16(ino.Owner) == m.uid:
		class = (ino.Mode >> 6) & 07
	case uint16(ino.Group) == m.gid:
		class = (ino.Mode >> 3) & 07
	default:
		class = ino.Mode & 07
	}

	if uint16(op)&class != uint16(op) {
		return sofserr.New(errOp, sofserr.AccessDenied)
	}

	return nil
}
