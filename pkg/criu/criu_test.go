package criu

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds an engine around the test binary itself; nothing
// is executed, the path only has to resolve.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(os.Args[0])
	require.NoError(t, err)
	return eng
}

func TestNewUnknownBinary(t *testing.T) {
	_, err := New("definitely-not-a-criu-binary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInheritFileNumbering(t *testing.T) {
	eng := newTestEngine(t)

	f1, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f1.Close()
	f2, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f2.Close()

	// descriptors 0-2 are stdio and 3 is the RPC socket in the child,
	// so handed-over files start at 4
	assert.Equal(t, 4, eng.InheritFile("extRootNetNS", f1))
	assert.Equal(t, 5, eng.InheritFile("other", f2))

	require.Len(t, eng.opts.InheritFd, 2)
	assert.Equal(t, int32(4), eng.opts.InheritFd[0].GetFd())
	assert.Equal(t, "extRootNetNS", eng.opts.InheritFd[0].GetKey())
	assert.Equal(t, int32(5), eng.opts.InheritFd[1].GetFd())

	require.Len(t, eng.files, 2)
	assert.Same(t, f1, eng.files[0])
}

func TestExternalDeclarations(t *testing.T) {
	eng := newTestEngine(t)

	eng.AddExternalMount("/etc/hosts", "/run/hosts")
	eng.AddExternal("net[42]:extRootNetNS")
	eng.AddInheritFd(1, "pipe:[12345]")

	require.Len(t, eng.opts.ExtMnt, 1)
	assert.Equal(t, "/etc/hosts", eng.opts.ExtMnt[0].GetKey())
	assert.Equal(t, "/run/hosts", eng.opts.ExtMnt[0].GetVal())

	assert.Equal(t, []string{"net[42]:extRootNetNS"}, eng.opts.External)

	require.Len(t, eng.opts.InheritFd, 1)
	assert.Equal(t, int32(1), eng.opts.InheritFd[0].GetFd())
	assert.Equal(t, "pipe:[12345]", eng.opts.InheritFd[0].GetKey())
}

func TestOptionSetters(t *testing.T) {
	eng := newTestEngine(t)

	eng.SetPid(1234)
	eng.SetRoot("/run/bundle/criu-root")
	eng.SetLogLevel(4)
	eng.SetLogFile("dump.log")
	eng.SetLeaveRunning(true)
	eng.SetExtUnixSk(true)
	eng.SetShellJob(true)
	eng.SetTcpEstablished(true)

	assert.Equal(t, int32(1234), eng.opts.GetPid())
	assert.Equal(t, "/run/bundle/criu-root", eng.opts.GetRoot())
	assert.Equal(t, int32(4), eng.opts.GetLogLevel())
	assert.Equal(t, "dump.log", eng.opts.GetLogFile())
	assert.True(t, eng.opts.GetLeaveRunning())
	assert.True(t, eng.opts.GetExtUnixSk())
	assert.True(t, eng.opts.GetShellJob())
	assert.True(t, eng.opts.GetTcpEstablished())
}

func TestSwrkChildSharesCallerStdio(t *testing.T) {
	// restore replays stdio provenance as inherit-fd declarations
	// indexed 0-2, which CRIU resolves against the swrk child's own
	// descriptor table. The child therefore has to share our stdio.
	out := filepath.Join(t.TempDir(), "fd0")
	script := filepath.Join(t.TempDir(), "criu")
	require.NoError(t, os.WriteFile(script,
		[]byte(fmt.Sprintf("#!/bin/sh\nreadlink /proc/self/fd/0 > %q\n", out)), 0o755))

	eng, err := New(script)
	require.NoError(t, err)

	// the stand-in exits without speaking the protocol, so the call
	// itself fails; only the recorded descriptor target matters
	require.Error(t, eng.Dump())

	childFd0, err := os.ReadFile(out)
	require.NoError(t, err)
	selfFd0, err := os.Readlink("/proc/self/fd/0")
	require.NoError(t, err)
	assert.Equal(t, selfFd0, strings.TrimSpace(string(childFd0)))
}

func TestImagesAndWorkDir(t *testing.T) {
	eng := newTestEngine(t)

	dir, err := os.Open(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	eng.SetImagesDir(dir)
	eng.SetWorkDir(dir)

	assert.Equal(t, int32(dir.Fd()), eng.opts.GetImagesDirFd())
	assert.Equal(t, int32(dir.Fd()), eng.opts.GetWorkDirFd())
}
