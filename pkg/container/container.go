// Package container orchestrates checkpointing a running container's
// process tree into an image directory and restoring it later, using CRIU
// as the capture/injection engine. The hard part handled here is not the
// engine invocation but reconciling the resources the engine cannot
// virtualize: bind mounts, masked files, an externally-owned network
// namespace, and the three stdio descriptors.
package container

import (
	"errors"
	"fmt"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

const (
	CheckpointLogFile = "dump.log"
	RestoreLogFile    = "restore.log"

	// scratch mountpoint under the bundle that restore bind-mounts the
	// rootfs onto; CRIU needs its restore root to be a mount point
	scratchDirName = "criu-root"
)

var (
	ErrNotPermitted      = errors.New("checkpoint/restore requires root")
	ErrNoImagesDirectory = errors.New("image directory not set")
	ErrInvalidNamespace  = errors.New("invalid namespace type")
)

// Opts gate engine behavior for a single checkpoint or restore call.
type Opts struct {
	// ImagesDirectory receives (checkpoint) or provides (restore) the
	// engine image files. Required.
	ImagesDirectory string
	// WorkDirectory receives the engine log files. Defaults to
	// ImagesDirectory when empty.
	WorkDirectory string

	LeaveRunning            bool // leave the process tree running after checkpoint
	ExternalUnixConnections bool // allow external unix sockets
	ShellJob                bool // allow dumping/restoring shell jobs
	TcpEstablished          bool // checkpoint/restore established TCP connections
}

// Status is the mutable container record shared with the caller. The
// orchestrators read Bundle, Rootfs and Pid; checkpoint writes
// ExternalDescriptors and restore overwrites Pid with the engine-reported
// pid of the restored tree.
type Status struct {
	// Pid is the supervised init process id
	Pid int
	// Bundle is the container bundle directory
	Bundle string
	// Rootfs is the root filesystem path, relative to Bundle
	Rootfs string
	// ExternalDescriptors holds the serialized stdio provenance
	// (a JSON array of 3 strings)
	ExternalDescriptors string
}

// externalDeclarer is the slice of the engine surface the resource mapper
// needs: external mount pairs, raw external keys, and inherited files.
type externalDeclarer interface {
	AddExternalMount(dest, src string)
	AddExternal(key string)
	InheritFile(key string, f *os.File) int
}

var namespaceCloneFlags = map[specs.LinuxNamespaceType]int{
	specs.PIDNamespace:     unix.CLONE_NEWPID,
	specs.NetworkNamespace: unix.CLONE_NEWNET,
	specs.MountNamespace:   unix.CLONE_NEWNS,
	specs.IPCNamespace:     unix.CLONE_NEWIPC,
	specs.UTSNamespace:     unix.CLONE_NEWUTS,
	specs.UserNamespace:    unix.CLONE_NEWUSER,
	specs.CgroupNamespace:  unix.CLONE_NEWCGROUP,
	specs.TimeNamespace:    unix.CLONE_NEWTIME,
}

func namespaceCloneFlag(t specs.LinuxNamespaceType) (int, error) {
	flag, ok := namespaceCloneFlags[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNamespace, t)
	}
	return flag, nil
}

func isBindMount(m specs.Mount) bool {
	for _, opt := range m.Options {
		if opt == "bind" || opt == "rbind" {
			return true
		}
	}
	return false
}
