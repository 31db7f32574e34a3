package sofs

import (
	"testing"

	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
)

// newTestMount formats a fresh in-memory volume of the given geometry and
// mounts it, registering cleanup so the test doesn't need to call Unmount
// itself.
func newTestMount(t *testing.T, totalBlocks int64, numInodes uint32) *Mount {
	t.Helper()

	dev := blockdev.NewMemDevice(BlockSize, totalBlocks)
	opts := FormatOptions{VolumeName: "test", NumInodes: numInodes}
	if err := Format(dev, opts, slog.Discard); err != nil {
		t.Fatalf("Format: %v", err)
	}

	m, err := Mount(dev, MountOptions{Logger: slog.Discard})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { _ = m.Unmount() })

	return m
}
