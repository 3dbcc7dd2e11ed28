package container

import (
	"fmt"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// The engine must not try to snapshot or recreate resources that live
// outside the container's virtualized view. This file derives those
// declarations from the container specification.

const nullDevice = "/dev/null"

// Key shared between checkpoint and restore for the externally-owned
// network namespace: "net[<inode>]:extRootNetNS" on dump,
// an inherited descriptor labelled "extRootNetNS" on restore.
const extRootNetNSKey = "extRootNetNS"

// addBindMounts declares every bind/rbind mount as an external mount.
// During checkpoint the mapping is host-relative, so destination maps to
// itself; during restore the true host source must be supplied so the
// engine bind-mounts correctly.
func addBindMounts(eng externalDeclarer, spec *specs.Spec, forRestore bool) {
	for _, m := range spec.Mounts {
		if !isBindMount(m) {
			continue
		}
		if forRestore {
			eng.AddExternalMount(m.Destination, m.Source)
		} else {
			eng.AddExternalMount(m.Destination, m.Destination)
		}
	}
}

// addMaskedPaths declares masked paths that are regular files as external
// mounts. Their content is intentionally hidden from the container, so
// restore maps them to the null device instead of preserving anything.
// Masked paths that do not exist or are not regular files need no
// declaration.
func addMaskedPaths(eng externalDeclarer, spec *specs.Spec, forRestore bool) {
	if spec.Linux == nil {
		return
	}
	for _, p := range spec.Linux.MaskedPaths {
		st, err := os.Stat(p)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		if forRestore {
			eng.AddExternalMount(p, nullDevice)
		} else {
			eng.AddExternalMount(p, p)
		}
	}
}

// addNetworkNamespace handles a network namespace shared with other
// entities. If the specification pins the network namespace to a path,
// the engine is told to leave that namespace alone: checkpoint declares
// it external by inode, restore opens the path and hands the descriptor
// over so the restored tree joins the pre-existing namespace. Only the
// first matching entry is used. The returned file, if any, must be kept
// open until the engine action call returns and closed by the caller.
func addNetworkNamespace(eng externalDeclarer, spec *specs.Spec, forRestore bool) (*os.File, error) {
	if spec.Linux == nil {
		return nil, nil
	}
	for _, ns := range spec.Linux.Namespaces {
		flag, err := namespaceCloneFlag(ns.Type)
		if err != nil {
			return nil, err
		}
		if flag != unix.CLONE_NEWNET || ns.Path == "" {
			continue
		}

		if forRestore {
			f, err := os.Open(ns.Path)
			if err != nil {
				return nil, fmt.Errorf("open network namespace %s: %w", ns.Path, err)
			}
			eng.InheritFile(extRootNetNSKey, f)
			return f, nil
		}

		var st unix.Stat_t
		if err := unix.Stat(ns.Path, &st); err != nil {
			return nil, fmt.Errorf("stat network namespace %s: %w", ns.Path, err)
		}
		eng.AddExternal(fmt.Sprintf("net[%d]:%s", st.Ino, extRootNetNSKey))
		return nil, nil
	}

	// no pinned network namespace; the engine manages it itself
	return nil, nil
}
