package sofserr

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New("AllocInode", NoSpace)
	want := "AllocInode: no space left on device"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("pread: bad file descriptor")
	err := Wrap("blockdev.ReadBlock", IoError, cause)

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Wrap did not produce an *Error")
	}
	if e.Kind != IoError {
		t.Errorf("Kind = %v, want IoError", e.Kind)
	}
	if !errors.Is(err, cause) {
		t.Errorf("wrapped error does not unwrap to cause")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap("op", BadArgument, nil)
	if Is(err, IoError) {
		t.Errorf("Wrap(nil) should not carry the cause's kind")
	}
	if !Is(err, BadArgument) {
		t.Errorf("Wrap(nil) should still carry the given kind")
	}
}

func TestIs(t *testing.T) {
	err := New("getDirEntryByName", NoEntry)
	if !Is(err, NoEntry) {
		t.Errorf("Is(err, NoEntry) = false, want true")
	}
	if Is(err, AlreadyExists) {
		t.Errorf("Is(err, AlreadyExists) = true, want false")
	}
	if Is(errors.New("plain error"), NoEntry) {
		t.Errorf("Is on a non-*Error should be false")
	}
}

func TestFatalClassification(t *testing.T) {
	fatalKinds := []Kind{SuperBlockHeaderInvalid, InodeTableInvalid, DataZoneInvalid, IoError}
	for _, k := range fatalKinds {
		if !k.Fatal() {
			t.Errorf("%v.Fatal() = false, want true", k)
		}
	}

	recoverableKinds := []Kind{BadArgument, NoEntry, AlreadyExists, NotEmpty, AccessDenied}
	for _, k := range recoverableKinds {
		if k.Fatal() {
			t.Errorf("%v.Fatal() = true, want false", k)
		}
	}
}
