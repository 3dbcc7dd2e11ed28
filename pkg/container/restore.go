package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
	"github.com/stasis-sh/stasis/pkg/config"
	"github.com/stasis-sh/stasis/pkg/criu"
	"golang.org/x/sys/unix"
)

// Restore reconstructs the process tree from opts.ImagesDirectory into a
// fresh container instance and returns the pid of the restored root
// process. status.Pid is overwritten with that pid on success: because of
// pid namespace virtualization it generally differs from the pid the tree
// had at checkpoint time.
//
// The engine requires its restore root to be a mount point whose parent
// is not overmounted, so the rootfs is recursively bind-mounted onto a
// scratch directory under the bundle. Mountpoint reconciliation happens
// against that scratch view and never touches the canonical rootfs path.
// The scratch mount is torn down whether restore succeeds or fails.
func Restore(status *Status, spec *specs.Spec, opts *Opts) (int, error) {
	if os.Geteuid() != 0 {
		return 0, ErrNotPermitted
	}
	if opts.ImagesDirectory == "" {
		return 0, ErrNoImagesDirectory
	}

	eng, err := criu.New(config.Global.CRIU.BinaryPath)
	if err != nil {
		return 0, err
	}

	imageDir, err := os.Open(opts.ImagesDirectory)
	if err != nil {
		return 0, fmt.Errorf("open checkpoint directory %s: %w", opts.ImagesDirectory, err)
	}
	defer imageDir.Close()
	eng.SetImagesDir(imageDir)

	// replay stdio provenance: pipes are reconnected by descriptor
	// index, everything else comes back from the image data
	raw, fds, err := loadDescriptors(opts.ImagesDirectory)
	if err != nil {
		return 0, err
	}
	status.ExternalDescriptors = raw
	applyDescriptors(fds, eng.AddInheritFd)

	logDir := opts.ImagesDirectory
	if opts.WorkDirectory != "" {
		workDir, err := os.Open(opts.WorkDirectory)
		if err != nil {
			return 0, fmt.Errorf("open work directory %s: %w", opts.WorkDirectory, err)
		}
		defer workDir.Close()
		eng.SetWorkDir(workDir)
		logDir = opts.WorkDirectory
	}

	addBindMounts(eng, spec, true)
	addMaskedPaths(eng, spec, true)

	root := filepath.Join(status.Bundle, scratchDirName)
	if err := os.Mkdir(root, 0o755); err != nil {
		return 0, fmt.Errorf("create restore directory %s: %w", root, err)
	}
	rootfs := filepath.Join(status.Bundle, status.Rootfs)
	if err := unix.Mount(rootfs, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		os.Remove(root)
		return 0, fmt.Errorf("mount restore directory %s: %w", root, err)
	}

	pid, restoreErr := restoreOnScratchRoot(eng, spec, opts, root, logDir)

	// Cleanup runs on both the success and the failure path. A restore
	// failure takes priority but does not mask cleanup failures: both
	// are reported, restore error first.
	var cleanupErr error
	if err := unix.Unmount(root, unix.MNT_DETACH); err != nil {
		cleanupErr = fmt.Errorf("unmount restore directory %s: %w", root, err)
	}
	if err := os.Remove(root); err != nil {
		cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove restore directory %s: %w", root, err))
	}

	if restoreErr != nil {
		return 0, errors.Join(restoreErr, cleanupErr)
	}

	status.Pid = pid
	log.Info().
		Int("pid", pid).
		Str("images", opts.ImagesDirectory).
		Msg("restore complete")
	return pid, cleanupErr
}

// restoreOnScratchRoot performs the steps that require the scratch bind
// mount to be in place, through the blocking restore call itself.
func restoreOnScratchRoot(eng *criu.Engine, spec *specs.Spec, opts *Opts, root, logDir string) (int, error) {
	// recreate mountpoints the engine will not materialize
	if err := prepareRestoreMounts(spec, root); err != nil {
		return 0, err
	}
	eng.SetRoot(root)

	netns, err := addNetworkNamespace(eng, spec, true)
	if err != nil {
		return 0, err
	}
	if netns != nil {
		defer netns.Close()
	}

	eng.SetExtUnixSk(opts.ExternalUnixConnections)
	eng.SetShellJob(opts.ShellJob)
	eng.SetTcpEstablished(opts.TcpEstablished)

	eng.SetLogLevel(config.Global.CRIU.LogLevel)
	eng.SetLogFile(RestoreLogFile)

	log.Debug().
		Str("images", opts.ImagesDirectory).
		Str("root", root).
		Msg("restoring container")

	pid, err := eng.Restore()
	if err != nil {
		return 0, fmt.Errorf("restoring failed: %w; please check the CRIU logfile %s",
			err, filepath.Join(logDir, RestoreLogFile))
	}
	return pid, nil
}
