package sofs

import (
	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
	"github.com/rothixz/sofs/internal/sofserr"
)

// loadedBlock tracks one outstanding load/store bracket: which block
// (table-relative block offset, or cluster number) is currently checked
// out, and the buffer the load handed out.
// The design note calls for replacing the teacher's module-level static
// caches with an explicit context; this struct is that context's per-slot
// bookkeeping, enforcing "at most one outstanding load without a paired
// store" (see loadITBlock/storeITBlock and friends).
type loadedBlock struct {
	loaded bool
	block  int64
	buf    []byte
}

func (l *loadedBlock) reset() {
	l.loaded = false
	l.block = 0
	l.buf = nil
}

// Mount is the explicit mount context threaded through every core
// operation: the device handle, the decoded superblock, and the four
// "currently loaded" slots (inode-table block, free-cluster-table block,
// single-indirect cluster, double-indirect cluster) that the load/store
// bracket discipline of C2 operates on. Mount is not safe for concurrent
// use -- the engine assumes exclusive ownership of the device for the
// lifetime of a mount, per the concurrency model.
type Mount struct {
	dev   blockdev.Device
	log   slog.Logger
	super *Superblock

	itBlock  loadedBlock
	fctBlock loadedBlock
	ref1     loadedBlock // single-indirect reference cluster
	ref2     loadedBlock // double-indirect reference cluster

	uid, gid uint16
}

// MountOptions configures the calling process identity used by
// accessGranted and inode ownership assignment.
type MountOptions struct {
	UID, GID uint16
	Logger   slog.Logger
}

// Mount opens dev as a SOFS volume: loads the superblock, validates the
// magic number, runs the consistency checker, and flips mstat to "not
// cleanly unmounted" so that a crash mid-session is visible to the next
// mount.
func Mount(dev blockdev.Device, opts MountOptions) (*Mount, error) {
	const op = "Mount"

	if dev.BlockSize() != BlockSize {
		return nil, sofserr.New(op, sofserr.BadArgument)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default
	}

	m := &Mount{dev: dev, log: logger, uid: opts.UID, gid: opts.GID}

	if err := m.loadSuperblock(); err != nil {
		return nil, err
	}

	if m.super.Magic != magicNumber {
		return nil, sofserr.New(op, sofserr.SuperBlockHeaderInvalid)
	}

	if err := m.Check(); err != nil {
		return nil, err
	}

	m.super.Mstat = notCleanlyUnmounted
	if err := m.storeSuperblock(); err != nil {
		return nil, err
	}

	m.log.Infof("mounted volume %q (%d blocks)", m.super.VolumeName(), m.super.Ntotal)

	return m, nil
}

// Unmount flips mstat back to "cleanly unmounted", flushes the
// superblock, and closes the device.
func (m *Mount) Unmount() error {
	const op = "Unmount"

	m.super.Mstat = cleanlyUnmounted
	if err := m.storeSuperblock(); err != nil {
		return err
	}

	if err := m.dev.Sync(); err != nil {
		return sofserr.Wrap(op, sofserr.IoError, err)
	}

	return m.dev.Close()
}

// Super returns the currently mounted superblock. Callers must not mutate
// the returned value directly; it is exposed read-only for inspection
// (fsck reporting, tests).
func (m *Mount) Super() Superblock {
	return *m.super
}
