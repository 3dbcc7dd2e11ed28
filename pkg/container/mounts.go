package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// The engine restores the content of any mount it recognizes as a
// virtualized filesystem (tmpfs), but it does not create bind-mount
// target directories or files missing from the rootfs it restores into.
// Those must exist before the restore root is handed over, so restore
// recreates them the same way the runtime does on initial container
// creation.

// prepareRestoreMounts walks the mount table in specification order and
// creates any missing mountpoint under root. Creation is a precondition
// for restore, not best effort: the first failure aborts.
func prepareRestoreMounts(spec *specs.Spec, root string) error {
	// tmpfs destinations first; anything living under a tmpfs is
	// recreated by the engine together with the tmpfs content
	var tmpfs []string
	for _, m := range spec.Mounts {
		if m.Type == "tmpfs" {
			tmpfs = append(tmpfs, m.Destination)
		}
	}

	for _, m := range spec.Mounts {
		switch m.Type {
		case "cgroup", "cgroup2":
			// owned by the cgroup subsystem; the engine handles the
			// hierarchy itself
			continue
		}
		if isUnderTmpfs(m.Destination, tmpfs) {
			continue
		}
		if err := makeMountpoint(m, root); err != nil {
			return err
		}
	}
	return nil
}

func isUnderTmpfs(dest string, tmpfs []string) bool {
	for _, t := range tmpfs {
		if dest == t || strings.HasPrefix(dest, t+"/") {
			return true
		}
	}
	return false
}

// makeMountpoint creates the destination as a directory, or as an empty
// file when the entry bind-mounts a host file. Paths are resolved
// relative to root with symlink escapes rejected, since the rootfs
// content is workload-influenced.
func makeMountpoint(m specs.Mount, root string) error {
	isDir := true
	if isBindMount(m) {
		st, err := os.Stat(m.Source)
		if err != nil {
			return fmt.Errorf("stat bind mount source %s: %w", m.Source, err)
		}
		isDir = st.IsDir()
	}

	if isDir {
		if err := securejoin.MkdirAll(root, m.Destination, 0o755); err != nil {
			return fmt.Errorf("create mountpoint %s under %s: %w", m.Destination, root, err)
		}
		return nil
	}

	if parent := filepath.Dir(m.Destination); parent != "/" {
		if err := securejoin.MkdirAll(root, parent, 0o755); err != nil {
			return fmt.Errorf("create mountpoint parent %s under %s: %w", parent, root, err)
		}
	}
	dest, err := securejoin.SecureJoin(root, m.Destination)
	if err != nil {
		return fmt.Errorf("resolve mountpoint %s under %s: %w", m.Destination, root, err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("create mountpoint file %s: %w", dest, err)
	}
	return f.Close()
}
