package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stasis-sh/stasis/pkg/config"
	"github.com/stasis-sh/stasis/pkg/container"
	"github.com/stasis-sh/stasis/pkg/oci"
)

const (
	imagePathFlag      = "image-path"
	workPathFlag       = "work-path"
	leaveRunningFlag   = "leave-running"
	tcpEstablishedFlag = "tcp-established"
	extUnixSkFlag      = "ext-unix-sk"
	shellJobFlag       = "shell-job"
	pidFlag            = "pid"
)

func init() {
	checkpointCmd.Flags().String(imagePathFlag, "", "path for saving criu image files")
	checkpointCmd.MarkFlagDirname(imagePathFlag)
	checkpointCmd.Flags().String(workPathFlag, "", "path for saving work files and logs")
	checkpointCmd.MarkFlagDirname(workPathFlag)
	checkpointCmd.Flags().Bool(leaveRunningFlag, false, "leave the process running after checkpointing")
	checkpointCmd.Flags().Bool(tcpEstablishedFlag, false, "allow open tcp connections")
	checkpointCmd.Flags().Bool(extUnixSkFlag, false, "allow external unix sockets")
	checkpointCmd.Flags().Bool(shellJobFlag, false, "allow shell jobs")
	checkpointCmd.Flags().Int(pidFlag, 0, "pid of the container init process")
	checkpointCmd.MarkFlagRequired(pidFlag)

	viper.BindPFlag("criu.leave_running", checkpointCmd.Flags().Lookup(leaveRunningFlag))
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint BUNDLE",
	Short: "Checkpoint a running container into an image directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle := args[0]
		spec, err := oci.LoadSpec(bundle)
		if err != nil {
			return err
		}

		imagePath, _ := cmd.Flags().GetString(imagePathFlag)
		if imagePath == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			imagePath = filepath.Join(cwd, config.Global.Checkpoint.Dir)
		}
		workPath, _ := cmd.Flags().GetString(workPathFlag)
		tcpEstablished, _ := cmd.Flags().GetBool(tcpEstablishedFlag)
		extUnixSk, _ := cmd.Flags().GetBool(extUnixSkFlag)
		shellJob, _ := cmd.Flags().GetBool(shellJobFlag)
		pid, _ := cmd.Flags().GetInt(pidFlag)

		status := &container.Status{
			Pid:    pid,
			Bundle: bundle,
			Rootfs: spec.Root.Path,
		}
		status.ExternalDescriptors, err = container.DescribeDescriptors(pid)
		if err != nil {
			return err
		}

		opts := &container.Opts{
			ImagesDirectory:         imagePath,
			WorkDirectory:           workPath,
			LeaveRunning:            viper.GetBool("criu.leave_running"),
			ExternalUnixConnections: extUnixSk,
			ShellJob:                shellJob,
			TcpEstablished:          tcpEstablished,
		}

		if err := container.Checkpoint(status, spec, opts); err != nil {
			return err
		}

		fmt.Printf("Checkpointed to %s\n", imagePath)
		return nil
	},
}
