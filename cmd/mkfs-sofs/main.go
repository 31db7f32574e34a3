package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
	"github.com/rothixz/sofs/internal/sofs"
)

var (
	flagVolumeName string
	flagNumInodes  uint32
	flagZeroFill   bool
	flagQuiet      bool
	flagBlocks     int64
)

var rootCmd = &cobra.Command{
	Use:   "mkfs-sofs DEVICE",
	Short: "Format a file or block device as a SOFS volume",
	Long: `mkfs-sofs lays down an empty SOFS volume: a superblock, an inode
table with a populated root directory, a free-inode list, and a
free-cluster table, on a regular file (created if it does not already
exist and -b is given) or an existing block-sized file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		level := logrus.InfoLevel
		if flagQuiet {
			level = logrus.WarnLevel
		}
		logger := slog.New(os.Stderr, level)

		dev, err := openDevice(path, flagBlocks)
		if err != nil {
			return err
		}
		defer dev.Close()

		opts := sofs.FormatOptions{
			VolumeName: flagVolumeName,
			NumInodes:  flagNumInodes,
			ZeroFill:   flagZeroFill,
		}

		if err := sofs.Format(dev, opts, logger); err != nil {
			return fmt.Errorf("mkfs-sofs: %w", err)
		}

		return dev.Sync()
	},
	SilenceUsage: true,
}

// openDevice opens path as a block device, creating it at -b blocks if it
// does not exist and a size was given.
func openDevice(path string, blocks int64) (*blockdev.FileDevice, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if blocks <= 0 {
			return nil, fmt.Errorf("mkfs-sofs: %s does not exist -- pass -b to create it", path)
		}
		return blockdev.CreateFile(path, sofs.BlockSize, blocks)
	}
	return blockdev.OpenFile(path, sofs.BlockSize)
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagVolumeName, "name", "n", "", "volume name (max 23 bytes, default \"sofs\")")
	f.Uint32VarP(&flagNumInodes, "inodes", "i", 0, "number of inodes (default: one per eight blocks, at least 8)")
	f.BoolVarP(&flagZeroFill, "zero", "z", false, "zero-fill every unallocated data cluster")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	f.Int64VarP(&flagBlocks, "blocks", "b", 0, "create DEVICE with this many blocks if it doesn't exist")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
