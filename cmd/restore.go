package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stasis-sh/stasis/pkg/container"
	"github.com/stasis-sh/stasis/pkg/oci"
)

func init() {
	restoreCmd.Flags().String(imagePathFlag, "", "path to the criu image files")
	restoreCmd.MarkFlagDirname(imagePathFlag)
	restoreCmd.Flags().String(workPathFlag, "", "path for saving work files and logs")
	restoreCmd.MarkFlagDirname(workPathFlag)
	restoreCmd.Flags().Bool(tcpEstablishedFlag, false, "allow open tcp connections")
	restoreCmd.Flags().Bool(extUnixSkFlag, false, "allow external unix sockets")
	restoreCmd.Flags().Bool(shellJobFlag, false, "allow shell jobs")
	restoreCmd.MarkFlagRequired(imagePathFlag)
}

var restoreCmd = &cobra.Command{
	Use:   "restore BUNDLE",
	Short: "Restore a container from a checkpoint image directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle := args[0]
		spec, err := oci.LoadSpec(bundle)
		if err != nil {
			return err
		}

		imagePath, _ := cmd.Flags().GetString(imagePathFlag)
		workPath, _ := cmd.Flags().GetString(workPathFlag)
		tcpEstablished, _ := cmd.Flags().GetBool(tcpEstablishedFlag)
		extUnixSk, _ := cmd.Flags().GetBool(extUnixSkFlag)
		shellJob, _ := cmd.Flags().GetBool(shellJobFlag)

		status := &container.Status{
			Bundle: bundle,
			Rootfs: spec.Root.Path,
		}
		opts := &container.Opts{
			ImagesDirectory:         imagePath,
			WorkDirectory:           workPath,
			ExternalUnixConnections: extUnixSk,
			ShellJob:                shellJob,
			TcpEstablished:          tcpEstablished,
		}

		pid, err := container.Restore(status, spec, opts)
		if err != nil {
			return err
		}

		fmt.Printf("Restored, pid %d\n", pid)
		return nil
	},
}
