package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rothixz/sofs/internal/blockdev"
	"github.com/rothixz/sofs/internal/slog"
	"github.com/rothixz/sofs/internal/sofs"
)

var flagQuiet bool

var rootCmd = &cobra.Command{
	Use:   "fsck-sofs DEVICE",
	Short: "Check a SOFS volume's metadata for consistency",
	Long: `fsck-sofs mounts DEVICE read-write, which runs the full consistency
check (superblock, inode table, free-inode list, data zone, directory
contents) as a side effect of mounting, reports the result, and unmounts
again without otherwise touching the volume.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		level := logrus.InfoLevel
		if flagQuiet {
			level = logrus.WarnLevel
		}
		logger := slog.New(os.Stderr, level)

		dev, err := blockdev.OpenFile(path, sofs.BlockSize)
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("FAIL"), path, err)
			return err
		}
		defer dev.Close()

		m, err := sofs.Mount(dev, sofs.MountOptions{Logger: logger})
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("FAIL"), path, err)
			return err
		}

		super := m.Super()
		fmt.Printf("%s %s: volume %q, %d inodes (%d free), %d data clusters (%d free)\n",
			green("PASS"), path, super.VolumeName(), super.Itotal, super.Ifree, super.DzoneTotal, super.DzoneFree)

		return m.Unmount()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
