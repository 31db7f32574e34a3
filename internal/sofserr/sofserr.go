// Package sofserr collects the error taxonomy shared by every SOFS
// component. Callers at the core boundary switch on Kind rather than
// comparing against sentinel values, so a single wrapped error can cross
// several layers (block I/O -> allocator -> directory layer) without losing
// its classification.
package sofserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error into one of the groups from the error-handling
// design: input validation, lookup, permission, capacity, internal
// consistency, or block I/O.
type Kind int

const (
	_ Kind = iota

	// Input validation
	BadArgument
	NameTooLong
	RelativePath
	NotDirectory
	IsDirectory
	Loop

	// Lookup
	NoEntry
	AlreadyExists

	// Permission
	AccessDenied
	NotPermitted

	// Capacity
	NoSpace
	FileTooBig
	MaxLinks
	NotEmpty

	// Internal consistency (fatal)
	SuperBlockHeaderInvalid
	InodeTableInvalid
	FreeInodeListInvalid
	FreeInodeInvalid
	InodeInUseInvalid
	DataZoneInvalid
	FreeCacheInvalid
	FctInvalid
	InodeRefListInvalid
	ClusterNotAllocated
	DirInvalid
	DirEntryInvalid
	AlreadyInList
	NotInList
	LibraryBad

	// Block I/O
	DeviceNotOpen
	IoError
	BadSeek

	// Layout / load-store discipline (C2)
	OutOfRange
	NotLoaded
)

var names = map[Kind]string{
	BadArgument:             "bad argument",
	NameTooLong:             "name too long",
	RelativePath:            "relative path",
	NotDirectory:            "not a directory",
	IsDirectory:             "is a directory",
	Loop:                    "too many symbolic links",
	NoEntry:                 "no such entry",
	AlreadyExists:           "entry already exists",
	AccessDenied:            "access denied",
	NotPermitted:            "operation not permitted",
	NoSpace:                 "no space left on device",
	FileTooBig:              "file too large",
	MaxLinks:                "too many links",
	NotEmpty:                "directory not empty",
	SuperBlockHeaderInvalid: "superblock header is inconsistent",
	InodeTableInvalid:       "inode table is inconsistent",
	FreeInodeListInvalid:    "free inode list is inconsistent",
	FreeInodeInvalid:        "free inode is inconsistent",
	InodeInUseInvalid:       "in-use inode is inconsistent",
	DataZoneInvalid:         "data zone is inconsistent",
	FreeCacheInvalid:        "free-cluster cache is inconsistent",
	FctInvalid:              "free-cluster table is inconsistent",
	InodeRefListInvalid:     "inode reference list is inconsistent",
	ClusterNotAllocated:     "cluster not allocated",
	DirInvalid:              "directory content is inconsistent",
	DirEntryInvalid:         "directory entry is inconsistent",
	AlreadyInList:           "reference already in list",
	NotInList:               "reference not in list",
	LibraryBad:              "internal library error",
	DeviceNotOpen:           "device not open",
	IoError:                 "device I/O error",
	BadSeek:                 "seek out of range",
	OutOfRange:              "logical number out of range",
	NotLoaded:               "store without matching load",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown error"
}

// Fatal reports whether errors of this kind leave the volume in a state
// that forbids further operations until a consistency check is re-run, per
// the propagation policy of the error-handling design: internal consistency
// and block-I/O errors are fatal, everything else is an ordinary,
// recoverable API-boundary error.
func (k Kind) Fatal() bool {
	switch k {
	case SuperBlockHeaderInvalid, InodeTableInvalid, FreeInodeListInvalid,
		FreeInodeInvalid, InodeInUseInvalid, DataZoneInvalid, FreeCacheInvalid,
		FctInvalid, InodeRefListInvalid, ClusterNotAllocated, DirInvalid,
		DirEntryInvalid, LibraryBad, DeviceNotOpen, IoError, BadSeek:
		return true
	default:
		return false
	}
}

// Error is the concrete error type returned across the core boundary. Op
// names the failing operation (e.g. "allocInode", "getDirEntryByName") so
// that a caller chaining several primitives can tell which one failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err (or any error it wraps) carries kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// New builds a *Error with no wrapped cause.
func New(op string, k Kind) error {
	return &Error{Op: op, Kind: k}
}

// Wrap builds a *Error whose Err is cause annotated by pkg/errors with the
// stack at the point of wrapping. Error() prints the cause with %v, so the
// stack shows only when the unwrapped cause is formatted with %+v.
func Wrap(op string, k Kind, cause error) error {
	if cause == nil {
		return New(op, k)
	}
	return &Error{Op: op, Kind: k, Err: errors.WithStack(cause)}
}
