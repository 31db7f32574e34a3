package sofs

import (
	"strings"

	"github.com/rothixz/sofs/internal/sofserr"
)

// defaultPerm bits applied by Mkdir/Mknod/Symlink on top of AllocInode's
// bare "type | 0" mode: AllocInode itself stays faithful to allocInode's
// permission-free allocation, but a syscall-level creation call needs its
// result to be immediately usable, so the composition layer fills in the
// conventional default here instead of leaving every new file inaccessible
// to its own owner.
const (
	defaultDirPerm  = 0755
	defaultFilePerm = 0644
	defaultLinkPerm = 0777
)

func (m *Mount) setPerm(nInode uint32, perm uint16) error {
	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	ino.Mode |= perm
	return m.storeInodeRaw(nInode, ino)
}

// This file composes the core C4-C7 primitives into the higher-level,
// path-based operations a caller (a FUSE shim, a syscall emulation layer,
// the fsck/mkfs CLIs' test harnesses) actually drives: Mkdir, Mknod,
// Symlink, Rmdir, Unlink, Rename, Truncate, Write, Read, Stat, ReadDir,
// ReadLink. None of these introduce new on-disk state machines of their
// own; they are thin orchestration over getDirEntryByPath, addAttDirEntry,
// remDetachDirEntry, and handleFileCluster(s).

// splitPath validates an absolute, non-root path and splits it into its
// parent directory path and basename.
func splitPath(op, path string) (dirPath, base string, err error) {
	if path == "" || path[0] != '/' {
		return "", "", sofserr.New(op, sofserr.RelativePath)
	}
	if len(path) > MaxPath {
		return "", "", sofserr.New(op, sofserr.BadArgument)
	}

	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "", "", sofserr.New(op, sofserr.BadArgument)
	}

	i := strings.LastIndexByte(trimmed, '/')
	dirPath = trimmed[:i]
	if dirPath == "" {
		dirPath = "/"
	}
	base = trimmed[i+1:]

	if err := validateBasename(op, base); err != nil {
		return "", "", err
	}
	return dirPath, base, nil
}

// resolveDir resolves path to an inode number, requiring it to name a
// directory.
func (m *Mount) resolveDir(op, path string) (uint32, error) {
	followed := 0
	nInode, err := m.resolveAbs(path, &followed)
	if err != nil {
		return 0, err
	}
	ino, err := m.fetchInode(nInode)
	if err != nil {
		return 0, err
	}
	if ino.inodeType() != TypeDirectory {
		return 0, sofserr.New(op, sofserr.NotDirectory)
	}
	return nInode, nil
}

// Mkdir creates an empty directory at path.
func (m *Mount) Mkdir(path string) error {
	const op = "Mkdir"

	dirPath, base, err := splitPath(op, path)
	if err != nil {
		return err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return err
	}

	nInode, err := m.AllocInode(TypeDirectory)
	if err != nil {
		return err
	}
	if err := m.setPerm(nInode, defaultDirPerm); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	if err := m.addAttDirEntry(parent, base, nInode, DirAdd); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	return nil
}

// Mknod creates an empty regular file at path.
func (m *Mount) Mknod(path string) error {
	const op = "Mknod"

	dirPath, base, err := splitPath(op, path)
	if err != nil {
		return err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return err
	}

	nInode, err := m.AllocInode(TypeRegular)
	if err != nil {
		return err
	}
	if err := m.setPerm(nInode, defaultFilePerm); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	if err := m.addAttDirEntry(parent, base, nInode, DirAdd); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	return nil
}

// Symlink creates a symbolic link at linkPath whose target text is
// target. target is not validated against the tree -- a dangling symlink
// is legal, exactly as in POSIX.
func (m *Mount) Symlink(target, linkPath string) error {
	const op = "Symlink"

	if target == "" || len(target) > MaxPath {
		return sofserr.New(op, sofserr.BadArgument)
	}

	dirPath, base, err := splitPath(op, linkPath)
	if err != nil {
		return err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return err
	}

	nInode, err := m.AllocInode(TypeSymlink)
	if err != nil {
		return err
	}
	if err := m.setPerm(nInode, defaultLinkPerm); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}

	if err := m.writeSymlinkTarget(nInode, target); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	if err := m.addAttDirEntry(parent, base, nInode, DirAdd); err != nil {
		_ = m.FreeInode(nInode)
		return err
	}
	return nil
}

func (m *Mount) writeSymlinkTarget(nInode uint32, target string) error {
	if _, err := m.handleFileCluster(nInode, 0, ClusterAlloc); err != nil {
		return err
	}
	buf := make([]byte, ClusterSize)
	copy(buf, target)
	if err := m.WriteFileCluster(nInode, 0, buf); err != nil {
		return err
	}

	ino, err := m.fetchInode(nInode)
	if err != nil {
		return err
	}
	ino.Size = uint32(len(target))
	return m.storeInodeRaw(nInode, ino)
}

// ReadLink returns the target text of the symbolic link at path itself,
// lstat-style: path's final component must not be resolved as a symlink
// (that's GetDirEntryByPath's job), or there would be nothing left to read.
func (m *Mount) ReadLink(path string) (string, error) {
	const op = "ReadLink"

	dirPath, base, err := splitPath(op, path)
	if err != nil {
		return "", err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return "", err
	}

	entInode, _, err := m.getDirEntryByName(parent, base)
	if err != nil {
		return "", err
	}
	ino, err := m.fetchInode(entInode)
	if err != nil {
		return "", err
	}
	if ino.inodeType() != TypeSymlink {
		return "", sofserr.New(op, sofserr.BadArgument)
	}
	return m.readSymlinkTarget(entInode)
}

// Rmdir removes the empty directory at path.
func (m *Mount) Rmdir(path string) error {
	const op = "Rmdir"

	dirPath, base, err := splitPath(op, path)
	if err != nil {
		return err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return err
	}

	targetInode, _, err := m.getDirEntryByName(parent, base)
	if err != nil {
		return err
	}
	ino, err := m.fetchInode(targetInode)
	if err != nil {
		return err
	}
	if ino.inodeType() != TypeDirectory {
		return sofserr.New(op, sofserr.NotDirectory)
	}

	return m.remDetachDirEntry(parent, base, DirRem)
}

// Unlink removes the directory entry at path, freeing the underlying file
// or symlink once its last link is gone. Directories must go through
// Rmdir.
func (m *Mount) Unlink(path string) error {
	const op = "Unlink"

	dirPath, base, err := splitPath(op, path)
	if err != nil {
		return err
	}
	parent, err := m.resolveDir(op, dirPath)
	if err != nil {
		return err
	}

	targetInode, _, err := m.getDirEntryByName(parent, base)
	if err != nil {
		return err
	}
	ino, err := m.fetchInode(targetInode)
	if err != nil {
		return err
	}
	if ino.inodeType() == TypeDirectory {
		return sofserr.New(op, sofserr.IsDirectory)
	}

	return m.remDetachDirEntry(parent, base, DirRem)
}

// Rename moves or renames the entry at oldPath to newPath. A rename onto
// itself is a no-op; a rename across directories re-links the target under
// the new parent before detaching it from the old one.
func (m *Mount) Rename(oldPath, newPath string) error {
	const op = "Rename"

	if oldPath == newPath {
		return nil
	}

	oldDir, oldBase, err := splitPath(op, oldPath)
	if err != nil {
		return err
	}
	newDir, newBase, err := splitPath(op, newPath)
	if err != nil {
		return err
	}

	oldParent, err := m.resolveDir(op, oldDir)
	if err != nil {
		return err
	}
	newParent, err := m.resolveDir(op, newDir)
	if err != nil {
		return err
	}

	if oldParent == newParent {
		return m.renameDirEntry(oldParent, oldBase, newBase)
	}

	targetInode, _, err := m.getDirEntryByName(oldParent, oldBase)
	if err != nil {
		return err
	}
	ino, err := m.fetchInode(targetInode)
	if err != nil {
		return err
	}

	mode := DirAdd
	if ino.inodeType() == TypeDirectory {
		mode = DirAttach
	}

	if err := m.addAttDirEntry(newParent, newBase, targetInode, mode); err != nil {
		return err
	}
	if err := m.remDetachDirEntry(oldParent, oldBase, DirDetach); err != nil {
		_ = m.remDetachDirEntry(newParent, newBase, DirDetach)
		return err
	}
	return nil
}

// Truncate resizes the regular file at path to newSize bytes, releasing
// any data cluster whose file-relative index is no longer covered.
// Growing past the current allocation leaves the new range as a hole,
// read back as zero by ReadFileCluster.
func (m *Mount) Truncate(path string, newSize uint32) error {
	const op = "Truncate"

	if int64(newSize) > MaxFileSize {
		return sofserr.New(op, sofserr.FileTooBig)
	}

	_, entInode, err := m.GetDirEntryByPath(path)
	if err != nil {
		return err
	}

	ino, err := m.fetchInode(entInode)
	if err != nil {
		return err
	}
	if ino.inodeType() != TypeRegular {
		return sofserr.New(op, sofserr.NotPermitted)
	}
	if err := m.AccessGranted(entInode, PermW); err != nil {
		return err
	}

	newClusterCount := divide(int64(newSize), ClusterSize)
	if err := m.handleFileClusters(entInode, newClusterCount); err != nil {
		return err
	}

	fresh, err := m.fetchInode(entInode)
	if err != nil {
		return err
	}
	fresh.Size = newSize
	return m.storeInodeRaw(entInode, fresh)
}

// Write stores data at byte offset in the regular file at path, growing
// size and allocating clusters on demand, read-modify-writing any cluster
// only partially covered by data.
func (m *Mount) Write(path string, offset int64, data []byte) error {
	const op = "Write"

	if offset < 0 {
		return sofserr.New(op, sofserr.BadArgument)
	}
	end := offset + int64(len(data))
	if end > MaxFileSize {
		return sofserr.New(op, sofserr.FileTooBig)
	}

	_, entInode, err := m.GetDirEntryByPath(path)
	if err != nil {
		return err
	}

	ino, err := m.fetchInode(entInode)
	if err != nil {
		return err
	}
	if ino.inodeType() != TypeRegular {
		return sofserr.New(op, sofserr.IsDirectory)
	}
	if err := m.AccessGranted(entInode, PermW); err != nil {
		return err
	}

	pos := offset
	written := 0
	for written < len(data) {
		cIdx, cOff := convertBPIDC(pos)
		buf, err := m.ReadFileCluster(entInode, cIdx)
		if err != nil {
			return err
		}
		n := copy(buf[cOff:], data[written:])
		if err := m.WriteFileCluster(entInode, cIdx, buf); err != nil {
			return err
		}
		pos += int64(n)
		written += n
	}

	fresh, err := m.fetchInode(entInode)
	if err != nil {
		return err
	}
	if uint32(end) > fresh.Size {
		fresh.Size = uint32(end)
	}
	return m.storeInodeRaw(entInode, fresh)
}

// Read returns up to length bytes of the regular file at path starting at
// offset. A read past end-of-file returns fewer bytes than requested (down
// to zero), never an error.
func (m *Mount) Read(path string, offset int64, length int) ([]byte, error) {
	const op = "Read"

	if offset < 0 || length < 0 {
		return nil, sofserr.New(op, sofserr.BadArgument)
	}

	_, entInode, err := m.GetDirEntryByPath(path)
	if err != nil {
		return nil, err
	}

	ino, err := m.fetchInode(entInode)
	if err != nil {
		return nil, err
	}
	if ino.inodeType() != TypeRegular {
		return nil, sofserr.New(op, sofserr.IsDirectory)
	}
	if err := m.AccessGranted(entInode, PermR); err != nil {
		return nil, err
	}

	if offset >= int64(ino.Size) {
		return nil, nil
	}
	if offset+int64(length) > int64(ino.Size) {
		length = int(int64(ino.Size) - offset)
	}

	out := make([]byte, 0, length)
	pos := offset
	for len(out) < length {
		cIdx, cOff := convertBPIDC(pos)
		buf, err := m.ReadFileCluster(entInode, cIdx)
		if err != nil {
			return nil, err
		}
		want := int64(length - len(out))
		if avail := int64(ClusterSize) - cOff; want > avail {
			want = avail
		}
		out = append(out, buf[cOff:cOff+want]...)
		pos += want
	}

	return out, nil
}

// Stat returns a copy of the inode record named by path.
func (m *Mount) Stat(path string) (Inode, error) {
	_, entInode, err := m.GetDirEntryByPath(path)
	if err != nil {
		return Inode{}, err
	}
	ino, err := m.fetchInode(entInode)
	if err != nil {
		return Inode{}, err
	}
	return *ino, nil
}

// ReadDir returns every in-use entry of the directory at path, including
// "." and "..".
func (m *Mount) ReadDir(path string) ([]DirEntry, error) {
	const op = "ReadDir"

	_, entInode, err := m.GetDirEntryByPath(path)
	if err != nil {
		return nil, err
	}

	ino, err := m.fetchInode(entInode)
	if err != nil {
		return nil, err
	}
	if ino.inodeType() != TypeDirectory {
		return nil, sofserr.New(op, sofserr.NotDirectory)
	}
	if err := m.AccessGranted(entInode, PermR|PermX); err != nil {
		return nil, err
	}

	var out []DirEntry
	for c := int64(0); c < int64(ino.Clucount); c++ {
		buf, err := m.ReadFileCluster(entInode, c)
		if err != nil {
			return nil, err
		}
		for s := 0; s < DPC; s++ {
			dv := dentryView(buf[s*dentrySize : (s+1)*dentrySize])
			if dv.inUse() {
				out = append(out, DirEntry{Name: dv.name(), Inode: dv.nInode()})
			}
		}
	}
	return out, nil
}
