package sofs

import (
	"testing"

	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
	"github.com/rothixz/sofs/internal/sofserr"
)

func TestFormatRejectsWrongBlockSize(t *testing.T) {
	dev := blockdev.NewMemDevice(1024, 64)
	if err := Format(dev, FormatOptions{}, slog.Discard); !sofserr.Is(err, sofserr.BadArgument) {
		t.Errorf("Format with a 1024-byte block device: err = %v, want BadArgument", err)
	}
}

func TestFormatRejectsTinyDevice(t *testing.T) {
	dev := blockdev.NewMemDevice(BlockSize, 2)
	if err := Format(dev, FormatOptions{}, slog.Discard); err == nil {
		t.Errorf("Format on a 2-block device should fail")
	}
}

func TestFormatRejectsNameTooLong(t *testing.T) {
	dev := blockdev.NewMemDevice(BlockSize, 256)
	opts := FormatOptions{VolumeName: "this volume name is far too long to fit"}
	if err := Format(dev, opts, slog.Discard); !sofserr.Is(err, sofserr.NameTooLong) {
		t.Errorf("Format with an oversized name: err = %v, want NameTooLong", err)
	}
}

func TestFormatThenMountRoundtrip(t *testing.T) {
	dev := blockdev.NewMemDevice(BlockSize, 256)
	opts := FormatOptions{VolumeName: "myvol", NumInodes: 16}
	if err := Format(dev, opts, slog.Discard); err != nil {
		t.Fatalf("Format: %v", err)
	}

	m, err := Mount(dev, MountOptions{Logger: slog.Discard})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	super := m.Super()
	if super.VolumeName() != "myvol" {
		t.Errorf("VolumeName() = %q, want %q", super.VolumeName(), "myvol")
	}
	if super.Itotal != 16 {
		t.Errorf("Itotal = %d, want 16", super.Itotal)
	}
	if super.Ifree != 15 {
		t.Errorf("Ifree = %d, want 15 (root excluded)", super.Ifree)
	}

	root, err := m.ReadInode(RootInode)
	if err != nil {
		t.Fatalf("ReadInode(root): %v", err)
	}
	if root.inodeType() != TypeDirectory {
		t.Errorf("root inode is not a directory")
	}
	if root.Clucount != 1 {
		t.Errorf("root.Clucount = %d, want 1 (cluster 0 belongs to the root)", root.Clucount)
	}

	entries, err := m.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir(/): %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadDir(/) returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Inode != RootInode {
			t.Errorf("entry %q points at inode %d, want root (0)", e.Name, e.Inode)
		}
	}

	if err := m.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
}

func TestFormatDefaultsScaleWithDeviceSize(t *testing.T) {
	dev := blockdev.NewMemDevice(BlockSize, 4096)
	if err := Format(dev, FormatOptions{}, slog.Discard); err != nil {
		t.Fatalf("Format: %v", err)
	}
	m, err := Mount(dev, MountOptions{Logger: slog.Discard})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer m.Unmount()

	if m.Super().VolumeName() != "sofs" {
		t.Errorf("default VolumeName() = %q, want \"sofs\"", m.Super().VolumeName())
	}
	if m.Super().Itotal < 8 {
		t.Errorf("Itotal = %d, want at least the floor of 8", m.Super().Itotal)
	}
}

func TestMountRejectsUnformattedDevice(t *testing.T) {
	dev := blockdev.NewMemDevice(BlockSize, 64)
	if _, err := Mount(dev, MountOptions{Logger: slog.Discard}); !sofserr.Is(err, sofserr.SuperBlockHeaderInvalid) {
		t.Errorf("Mount on a zero-filled device: err = %v, want SuperBlockHeaderInvalid", err)
	}
}
