package sofs

import (
	"bytes"
	"strings"

	"github.com/rothixz/sofs/internal/sofserr"
)

// RootInode is the inode number of the root directory, populated in place
// by the formatter and never freed.
const RootInode uint32 = 0

// DirEntry is the exported, decoded view of one directory entry, returned
// by ReadDir.
type DirEntry struct {
	Name  string
	Inode uint32
}

// DirAddMode selects the two behaviours of addAttDirEntry.
type DirAddMode int

const (
	DirAdd DirAddMode = iota
	DirAttach
)

// DirRemMode selects the two behaviours of remDetachDirEntry.
type DirRemMode int

const (
	DirRem DirRemMode = iota
	DirDetach
)

// dentryView overlays one dentrySize-byte slice of a directory cluster.
// Layout: MaxName+1 bytes of NUL-padded name, then a little-endian inode
// number. An entry is in use iff its first name byte is non-NUL -- the
// inode number alone can't carry that flag, since inode 0 (the root) is a
// legitimate ".." target.
type dentryView []byte

func (d dentryView) inUse() bool { return d[0] != 0 }

func (d dentryView) name() string {
	i := bytes.IndexByte(d[:MaxName+1], 0)
	if i < 0 {
		i = MaxName + 1
	}
	return string(d[:i])
}

func (d dentryView) nInode() uint32 { return leUint32(d[MaxName+1:]) }

func (d dentryView) setNameInode(name string, nInode uint32) {
	for i := 0; i < MaxName+1; i++ {
		d[i] = 0
	}
	copy(d[:MaxName], name)
	putLeUint32(d[MaxName+1:], nInode)
}

// tombstone marks a REM'd entry: swapping the first and last name bytes
// flips the in-use flag to free (the fixed-size name buffer beyond the NUL
// terminator is already zero for any normal name) while nInode is left
// untouched, so the linkage survives for recovery tooling.
func (d dentryView) tombstone() {
	d[0], d[MaxName] = d[MaxName], d[0]
}

func (d dentryView) detach() {
	for i := 0; i < MaxName+1; i++ {
		d[i] = 0
	}
	putLeUint32(d[MaxName+1:], NullInode)
}

func validateBasename(op, name string) error {
	if name == "" {
		return sofserr.New(op, sofserr.BadArgument)
	}
	if len(name) > MaxName {
		return sofserr.New(op, sofserr.NameTooLong)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return sofserr.New(op, sofserr.BadArgument)
	}
	return nil
}

// getDirEntryByName scans dirInode's clusters for name, requiring x
// permission on the directory. On success it returns the entry's inode
// number and its global slot index. On NoEntry, idx instead carries the
// first free slot encountered during the scan (or one past the last slot
// scanned, if none was free), so a caller that means to insert can reuse
// it without rescanning.
func (m *Mount) getDirEntryByName(dirInode uint32, name string) (uint32, int64, error) {
	const op = "getDirEntryByName"

	if err := validateBasename(op, name); err != nil {
		return 0, 0, err
	}
	if err := m.AccessGranted(dirInode, PermX); err != nil {
		return 0, 0, err
	}

	dirIno, err := m.fetchInode(dirInode)
	if err != nil {
		return 0, 0, err
	}
	if dirIno.inodeType() != TypeDirectory {
		return 0, 0, sofserr.New(op, sofserr.NotDirectory)
	}

	freeIdx := int64(-1)
	lastIdx := int64(-1)

	for c := int64(0); c < int64(dirIno.Clucount); c++ {
		buf, err := m.ReadFileCluster(dirInode, c)
		if err != nil {
			return 0, 0, err
		}
		for s := 0; s < DPC; s++ {
			idx := c*DPC + int64(s)
			lastIdx = idx
			dv := dentryView(buf[s*dentrySize : (s+1)*dentrySize])
			if !dv.inUse() {
				if freeIdx < 0 {
					freeIdx = idx
				}
				continue
			}
			if dv.name() == name {
				return dv.nInode(), idx, nil
			}
		}
	}

	if freeIdx >= 0 {
		return 0, freeIdx, sofserr.New(op, sofserr.NoEntry)
	}
	return 0, lastIdx + 1, sofserr.New(op, sofserr.NoEntry)
}

// readSymlinkTarget reads the NUL-terminated target path out of a
// symlink's first data cluster.
func (m *Mount) readSymlinkTarget(nInode uint32) (string, error) {
	buf, err := m.ReadFileCluster(nInode, 0)
	if err != nil {
		return "", err
	}
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		i = len(buf)
	}
	return string(buf[:i]), nil
}

// resolveAbs resolves an absolute path to an inode number, descending one
// component at a time from the root. followed counts symlinks traversed
// across the whole call chain; a second traversal is rejected as Loop.
func (m *Mount) resolveAbs(path string, followed *int) (uint32, error) {
	const op = "getDirEntryByPath"

	if path == "" || path[0] != '/' {
		return 0, sofserr.New(op, sofserr.RelativePath)
	}
	if len(path) > MaxPath {
		return 0, sofserr.New(op, sofserr.BadArgument)
	}

	trimmed := strings.Trim(path, "/")
	cur := RootInode
	if trimmed == "" {
		return cur, nil
	}

	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" {
			continue
		}
		next, _, err := m.getDirEntryByName(cur, seg)
		if err != nil {
			return 0, err
		}

		ino, err := m.fetchInode(next)
		if err != nil {
			return 0, err
		}
		if ino.inodeType() == TypeSymlink {
			if *followed >= 1 {
				return 0, sofserr.New(op, sofserr.Loop)
			}
			*followed++
			target, err := m.readSymlinkTarget(next)
			if err != nil {
				return 0, err
			}
			next, err = m.resolveAbs(target, followed)
			if err != nil {
				return 0, err
			}
		}

		cur = next
	}

	return cur, nil
}

// GetDirEntryByPath resolves an absolute path to (parent directory inode,
// entry inode), per C7's getDirEntryByPath. "/" resolves to (root, root).
func (m *Mount) GetDirEntryByPath(path string) (outDir, outEnt uint32, err error) {
	const op = "getDirEntryByPath"

	if path == "" || path[0] != '/' {
		return 0, 0, sofserr.New(op, sofserr.RelativePath)
	}
	if len(path) > MaxPath {
		return 0, 0, sofserr.New(op, sofserr.BadArgument)
	}

	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return RootInode, RootInode, nil
	}

	i := strings.LastIndexByte(trimmed, '/')
	dirPath := trimmed[:i]
	if dirPath == "" {
		dirPath = "/"
	}
	base := trimmed[i+1:]
	if err := validateBasename(op, base); err != nil {
		return 0, 0, err
	}

	followed := 0
	dirInode, err := m.resolveAbs(dirPath, &followed)
	if err != nil {
		return 0, 0, err
	}

	entInode, _, err := m.getDirEntryByName(dirInode, base)
	if err != nil {
		return 0, 0, err
	}

	// A symlink is resolved the same as any other component, including the
	// final one (spec: "after resolving a component..."), so a path naming
	// a symlink yields the inode it points at, not the symlink itself.
	ino, err := m.fetchInode(entInode)
	if err != nil {
		return 0, 0, err
	}
	if ino.inodeType() == TypeSymlink {
		if followed >= 1 {
			return 0, 0, sofserr.New(op, sofserr.Loop)
		}
		followed++
		target, err := m.readSymlinkTarget(entInode)
		if err != nil {
			return 0, 0, err
		}
		entInode, err = m.resolveAbs(target, &followed)
		if err != nil {
			return 0, 0, err
		}
	}

	return dirInode, entInode, nil
}

func (m *Mount) initDirCluster(nInode, parent uint32) error {
	if _, err := m.handleFileCluster(nInode, 0, ClusterAlloc); err != nil {
		return err
	}
	buf := make([]byte, ClusterSize)
	dentryView(buf[0:dentrySize]).setNameInode(".", nInode)
	dentryView(buf[dentrySize:2*dentrySize]).setNameInode("..", parent)
	return m.WriteFileCluster(nInode, 0, buf)
}

func (m *Mount) setDotDot(nInode, newParent uint32) error {
	buf, err := m.ReadFileCluster(nInode, 0)
	if err != nil {
		return err
	}
	dentryView(buf[dentrySize : 2*dentrySize]).setNameInode("..", newParent)
	return m.WriteFileCluster(nInode, 0, buf)
}

// writeDirSlot stores (name -> target) at global slot idx of dirInode,
// growing the directory by one cluster first if idx falls past its
// current content.
func (m *Mount) writeDirSlot(dirInode uint32, idx int64, name string, target uint32) error {
	cluster, slot := idx/DPC, idx%DPC

	dirIno, err := m.fetchInode(dirInode)
	if err != nil {
		return err
	}

	if cluster >= int64(dirIno.Clucount) {
		if _, err := m.handleFileCluster(dirInode, cluster, ClusterAlloc); err != nil {
			return err
		}
		grown, err := m.fetchInode(dirInode)
		if err != nil {
			return err
		}
		grown.Size = grown.Clucount * ClusterSize
		if err := m.storeInodeRaw(dirInode, grown); err != nil {
			return err
		}
	}

	buf, err := m.ReadFileCluster(dirInode, cluster)
	if err != nil {
		return err
	}
	dentryView(buf[slot*dentrySize : (slot+1)*dentrySize]).setNameInode(name, target)
	return m.WriteFileCluster(dirInode, cluster, buf)
}

// addAttDirEntry implements C7's ADD and ATTACH modes: linking a freshly
// allocated inode into dirInode under name (ADD), or moving a fully-formed
// subtree under a new parent (ATTACH).
func (m *Mount) addAttDirEntry(dirInode uint32, name string, targetInode uint32, mode DirAddMode) error {
	const op = "addAttDirEntry"

	if err := m.AccessGranted(dirInode, PermW|PermX); err != nil {
		return err
	}

	_, freeIdx, err := m.getDirEntryByName(dirInode, name)
	if err == nil {
		return sofserr.New(op, sofserr.AlreadyExists)
	}
	if !sofserr.Is(err, sofserr.NoEntry) {
		return err
	}

	dirIno, err := m.fetchInode(dirInode)
	if err != nil {
		return err
	}
	if dirIno.inodeType() != TypeDirectory {
		return sofserr.New(op, sofserr.NotDirectory)
	}

	tgtIno, err := m.fetchInode(targetInode)
	if err != nil {
		return err
	}

	if dirIno.Refcount == 0xFFFF || tgtIno.Refcount == 0xFFFF {
		return sofserr.New(op, sofserr.MaxLinks)
	}
	if int64(dirIno.Size) >= MaxFileSize {
		return sofserr.New(op, sofserr.FileTooBig)
	}

	switch mode {
	case DirAdd:
		if tgtIno.inodeType() == TypeDirectory {
			if err := m.initDirCluster(targetInode, dirInode); err != nil {
				return err
			}
			tgtIno, err = m.fetchInode(targetInode)
			if err != nil {
				return err
			}
			tgtIno.Refcount = 2
			tgtIno.Size = ClusterSize
			dirIno.Refcount++
		} else {
			tgtIno.Refcount++
		}

	case DirAttach:
		if dirIno.inodeType() != TypeDirectory || tgtIno.inodeType() != TypeDirectory {
			return sofserr.New(op, sofserr.NotDirectory)
		}
		if err := m.setDotDot(targetInode, dirInode); err != nil {
			return err
		}
		tgtIno.Refcount++
		dirIno.Refcount++
	}

	if err := m.storeInodeRaw(targetInode, tgtIno); err != nil {
		return err
	}
	if err := m.storeInodeRaw(dirInode, dirIno); err != nil {
		return err
	}

	return m.writeDirSlot(dirInode, freeIdx, name, targetInode)
}

func (m *Mount) tombstoneDirSlot(dirInode uint32, idx int64) error {
	cluster, slot := idx/DPC, idx%DPC
	buf, err := m.ReadFileCluster(dirInode, cluster)
	if err != nil {
		return err
	}
	dentryView(buf[slot*dentrySize : (slot+1)*dentrySize]).tombstone()
	return m.WriteFileCluster(dirInode, cluster, buf)
}

func (m *Mount) detachDirSlot(dirInode uint32, idx int64) error {
	cluster, slot := idx/DPC, idx%DPC
	buf, err := m.ReadFileCluster(dirInode, cluster)
	if err != nil {
		return err
	}
	dentryView(buf[slot*dentrySize : (slot+1)*dentrySize]).detach()
	return m.WriteFileCluster(dirInode, cluster, buf)
}

// remDetachDirEntry implements C7's REM and DETACH modes. REM is the
// semantic delete: it tombstones the entry, drops refcounts, and -- once
// the target's refcount reaches zero -- releases its clusters and frees
// the inode. DETACH zero-fills the slot and drops refcounts without ever
// cascading into inode reclamation; it is the removal half of a
// rename/attach move.
func (m *Mount) remDetachDirEntry(dirInode uint32, name string, mode DirRemMode) error {
	const op = "remDetachDirEntry"

	if name == "." || name == ".." {
		return sofserr.New(op, sofserr.BadArgument)
	}
	if err := m.AccessGranted(dirInode, PermW|PermX); err != nil {
		return err
	}

	targetInode, idx, err := m.getDirEntryByName(dirInode, name)
	if err != nil {
		return err
	}

	tgtIno, err := m.fetchInode(targetInode)
	if err != nil {
		return err
	}
	isDir := tgtIno.inodeType() == TypeDirectory

	if mode == DirRem && isDir {
		if err := m.checkDirectoryEmptiness(targetInode); err != nil {
			return err
		}
	}

	switch mode {
	case DirRem:
		if err := m.tombstoneDirSlot(dirInode, idx); err != nil {
			return err
		}
	case DirDetach:
		if err := m.detachDirSlot(dirInode, idx); err != nil {
			return err
		}
	}

	dirIno, err := m.fetchInode(dirInode)
	if err != nil {
		return err
	}

	if isDir {
		// REM deletes the (necessarily empty) directory outright, so both
		// its parent-entry link and its own "." go away in the same step;
		// DETACH only moves it, so only the parent-entry link is dropped.
		if mode == DirRem {
			tgtIno.Refcount -= 2
		} else {
			tgtIno.Refcount--
		}
		dirIno.Refcount--
		if err := m.storeInodeRaw(dirInode, dirIno); err != nil {
			return err
		}
	} else {
		tgtIno.Refcount--
	}

	if err := m.storeInodeRaw(targetInode, tgtIno); err != nil {
		return err
	}

	if mode == DirRem && tgtIno.Refcount == 0 {
		if err := m.handleFileClusters(targetInode, 0); err != nil {
			return err
		}
		if err := m.FreeInode(targetInode); err != nil {
			return err
		}
	}

	return nil
}

// renameDirEntry replaces the name of an existing entry in place, without
// touching inode linkage.
func (m *Mount) renameDirEntry(dirInode uint32, oldName, newName string) error {
	const op = "renameDirEntry"

	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return sofserr.New(op, sofserr.BadArgument)
	}
	if err := validateBasename(op, newName); err != nil {
		return err
	}
	if err := m.AccessGranted(dirInode, PermW|PermX); err != nil {
		return err
	}

	targetInode, idx, err := m.getDirEntryByName(dirInode, oldName)
	if err != nil {
		return err
	}

	if oldName == newName {
		return nil
	}

	if _, _, err := m.getDirEntryByName(dirInode, newName); err == nil {
		return sofserr.New(op, sofserr.AlreadyExists)
	} else if !sofserr.Is(err, sofserr.NoEntry) {
		return err
	}

	cluster, slot := idx/DPC, idx%DPC
	buf, err := m.ReadFileCluster(dirInode, cluster)
	if err != nil {
		return err
	}
	dentryView(buf[slot*dentrySize : (slot+1)*dentrySize]).setNameInode(newName, targetInode)
	return m.WriteFileCluster(dirInode, cluster, buf)
}

// checkDirectoryEmptiness succeeds iff every entry other than slots 0 and
// 1 ("." and "..") has a NUL first byte.
func (m *Mount) checkDirectoryEmptiness(nInode uint32) error {
	const op = "checkDirectoryEmptiness"

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	if ino.inodeType() != TypeDirectory {
		return sofserr.New(op, sofserr.NotDirectory)
	}

	for c := int64(0); c < int64(ino.Clucount); c++ {
		buf, err := m.ReadFileCluster(nInode, c)
		if err != nil {
			return err
		}
		for s := 0; s < DPC; s++ {
			idx := c*DPC + int64(s)
			if idx < 2 {
				continue
			}
			if dentryView(buf[s*dentrySize : (s+1)*dentrySize]).inUse() {
				return sofserr.New(op, sofserr.NotEmpty)
			}
		}
	}

	return nil
}
