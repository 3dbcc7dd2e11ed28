package container

import (
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog/log"
	"github.com/stasis-sh/stasis/pkg/config"
	"github.com/stasis-sh/stasis/pkg/criu"
)

// Checkpoint captures the container's process tree into
// opts.ImagesDirectory. The stdio provenance from status is written next
// to the image files so a later restore can replay it. Checkpointing
// never mutates host mount state, so no rollback is needed on failure.
func Checkpoint(status *Status, spec *specs.Spec, opts *Opts) error {
	if os.Geteuid() != 0 {
		return ErrNotPermitted
	}
	if opts.ImagesDirectory == "" {
		return ErrNoImagesDirectory
	}

	eng, err := criu.New(config.Global.CRIU.BinaryPath)
	if err != nil {
		return err
	}

	// a container can be checkpointed repeatedly into the same directory
	if err := os.Mkdir(opts.ImagesDirectory, 0o700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("create checkpoint directory %s: %w", opts.ImagesDirectory, err)
	}
	imageDir, err := os.Open(opts.ImagesDirectory)
	if err != nil {
		return fmt.Errorf("open checkpoint directory %s: %w", opts.ImagesDirectory, err)
	}
	defer imageDir.Close()
	eng.SetImagesDir(imageDir)

	// needed during restore to reconnect stdin, stdout and stderr
	if err := writeDescriptors(opts.ImagesDirectory, status); err != nil {
		return err
	}

	// without an explicit work directory the engine logs into the images
	// directory; logDir only matters for the error message below
	logDir := opts.ImagesDirectory
	if opts.WorkDirectory != "" {
		workDir, err := os.Open(opts.WorkDirectory)
		if err != nil {
			return fmt.Errorf("open work directory %s: %w", opts.WorkDirectory, err)
		}
		defer workDir.Close()
		eng.SetWorkDir(workDir)
		logDir = opts.WorkDirectory
	}

	// the container's init process and all of its children
	eng.SetPid(status.Pid)
	eng.SetRoot(filepath.Join(status.Bundle, status.Rootfs))

	addBindMounts(eng, spec, false)
	addMaskedPaths(eng, spec, false)
	if _, err := addNetworkNamespace(eng, spec, false); err != nil {
		return err
	}

	eng.SetLeaveRunning(opts.LeaveRunning)
	eng.SetExtUnixSk(opts.ExternalUnixConnections)
	eng.SetShellJob(opts.ShellJob)
	eng.SetTcpEstablished(opts.TcpEstablished)

	eng.SetLogLevel(config.Global.CRIU.LogLevel)
	eng.SetLogFile(CheckpointLogFile)

	log.Debug().
		Int("pid", status.Pid).
		Str("images", opts.ImagesDirectory).
		Msg("checkpointing container")

	if err := eng.Dump(); err != nil {
		return fmt.Errorf("checkpointing failed: %w; please check the CRIU logfile %s",
			err, filepath.Join(logDir, CheckpointLogFile))
	}

	log.Info().
		Int("pid", status.Pid).
		Str("images", opts.ImagesDirectory).
		Msg("checkpoint complete")
	return nil
}
