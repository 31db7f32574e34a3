package blockdev

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rothixz/sofs/internal/sofserr"
)

func TestMemDeviceReadWriteRoundtrip(t *testing.T) {
	dev := NewMemDevice(512, 4)

	buf := bytes.Repeat([]byte{0xAB}, 512)
	if err := dev.WriteBlock(2, buf); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	got, err := dev.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Errorf("ReadBlock returned %v, want %v", got[:4], buf[:4])
	}

	other, err := dev.ReadBlock(0)
	if err != nil {
		t.Fatalf("ReadBlock(0): %v", err)
	}
	if !bytes.Equal(other, make([]byte, 512)) {
		t.Errorf("block 0 should still be zero-filled")
	}
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := NewMemDevice(512, 2)

	if _, err := dev.ReadBlock(2); !sofserr.Is(err, sofserr.OutOfRange) {
		t.Errorf("ReadBlock(2) on a 2-block device: err = %v, want OutOfRange", err)
	}
	if err := dev.WriteBlock(-1, make([]byte, 512)); !sofserr.Is(err, sofserr.OutOfRange) {
		t.Errorf("WriteBlock(-1): err = %v, want OutOfRange", err)
	}
}

func TestMemDeviceWrongBufferSize(t *testing.T) {
	dev := NewMemDevice(512, 2)
	if err := dev.WriteBlock(0, make([]byte, 10)); !sofserr.Is(err, sofserr.BadArgument) {
		t.Errorf("WriteBlock with a short buffer: err = %v, want BadArgument", err)
	}
}

func TestFileDeviceCreateOpenRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	dev, err := CreateFile(path, 512, 8)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	buf := bytes.Repeat([]byte{0x5A}, 512)
	if err := dev.WriteBlock(3, buf); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := dev.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFile(path, 512)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer reopened.Close()

	if reopened.Blocks() != 8 {
		t.Errorf("Blocks() = %d, want 8", reopened.Blocks())
	}

	got, err := reopened.ReadBlock(3)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Errorf("ReadBlock(3) did not round-trip through the file")
	}
}

func TestOpenFileRejectsMisalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.img")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := OpenFile(path, 512); !sofserr.Is(err, sofserr.OutOfRange) {
		t.Errorf("OpenFile on a misaligned file: err = %v, want OutOfRange", err)
	}
}
