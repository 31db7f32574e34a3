package sofs

import "github.com/rothixz/sofs/internal/sofserr"

// FormatOptions configures the formatter (C3). Zero values mean "pick a
// sensible default for this device size".
type FormatOptions struct {
	// VolumeName is stored in the superblock; names past 23 bytes are
	// rejected.
	VolumeName string

	// NumInodes is the size of the inode table. Zero requests a default of
	// one inode per eight blocks of the device, floored at 8.
	NumInodes uint32

	// ZeroFill additionally writes zero blocks over every data cluster
	// besides the root's, rather than leaving the device's pre-existing
	// content in unallocated clusters.
	ZeroFill bool
}

// Validate rejects option combinations the formatter cannot act on.
func (o FormatOptions) Validate() error {
	const op = "FormatOptions.Validate"

	if len(o.VolumeName) > 23 {
		return sofserr.New(op, sofserr.NameTooLong)
	}
	if o.NumInodes != 0 && o.NumInodes < 2 {
		return sofserr.New(op, sofserr.BadArgument)
	}
	return nil
}

// WithDefaults fills in zero-valued fields against a device of totalBlocks
// blocks.
func (o FormatOptions) WithDefaults(totalBlocks int64) FormatOptions {
	out := o
	if out.VolumeName == "" {
		out.VolumeName = "sofs"
	}
	if out.NumInodes == 0 {
		n := uint32(totalBlocks / 8)
		if n < 8 {
			n = 8
		}
		out.NumInodes = n
	}
	return out
}
