// Package criu drives a `criu swrk` child process over its protobuf RPC
// socket. An Engine is constructed fresh for every dump or restore:
// declaration calls accumulate request options, and the single blocking
// action call (Dump or Restore) consumes them. Engines are not safe for
// concurrent use and are not meant to be reused.
package criu

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"

	rpc "github.com/checkpoint-restore/go-criu/v6/rpc"
	"golang.org/x/sys/unix"
	"google.golang.org/protobuf/proto"
)

// Inside the swrk child, 0-2 are the caller's own stdio (shared in
// doSwrk, so inherit-fd indices 0-2 resolve to them) and 3 is the RPC
// socket. Files handed over via InheritFile land right after.
const swrkExtraFilesBase = 4

type Engine struct {
	binary string
	opts   *rpc.CriuOpts
	files  []*os.File
}

// New resolves the CRIU binary and returns a fresh engine handle.
// An empty binary falls back to "criu" from PATH.
func New(binary string) (*Engine, error) {
	if binary == "" {
		binary = "criu"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("criu binary %q not found: %w", binary, err)
	}
	return &Engine{binary: path, opts: &rpc.CriuOpts{}}, nil
}

// SetImagesDir points CRIU at the directory holding (or receiving) the
// image files. The descriptor must stay open until the action call returns.
func (e *Engine) SetImagesDir(dir *os.File) {
	e.opts.ImagesDirFd = proto.Int32(int32(dir.Fd()))
}

// SetWorkDir redirects CRIU's log and work files. Without it CRIU uses
// the images directory.
func (e *Engine) SetWorkDir(dir *os.File) {
	e.opts.WorkDirFd = proto.Int32(int32(dir.Fd()))
}

func (e *Engine) SetPid(pid int) {
	e.opts.Pid = proto.Int32(int32(pid))
}

func (e *Engine) SetRoot(path string) {
	e.opts.Root = proto.String(path)
}

func (e *Engine) SetLogLevel(level int) {
	e.opts.LogLevel = proto.Int32(int32(level))
}

func (e *Engine) SetLogFile(name string) {
	e.opts.LogFile = proto.String(name)
}

func (e *Engine) SetLeaveRunning(v bool) {
	e.opts.LeaveRunning = proto.Bool(v)
}

func (e *Engine) SetExtUnixSk(v bool) {
	e.opts.ExtUnixSk = proto.Bool(v)
}

func (e *Engine) SetShellJob(v bool) {
	e.opts.ShellJob = proto.Bool(v)
}

func (e *Engine) SetTcpEstablished(v bool) {
	e.opts.TcpEstablished = proto.Bool(v)
}

// AddExternalMount declares a destination/source pair CRIU must treat as
// an external bind mount instead of trying to recreate its content.
func (e *Engine) AddExternalMount(dest, src string) {
	e.opts.ExtMnt = append(e.opts.ExtMnt, &rpc.ExtMountMap{
		Key: proto.String(dest),
		Val: proto.String(src),
	})
}

// AddExternal declares a raw external resource string,
// e.g. "net[<inode>]:extRootNetNS".
func (e *Engine) AddExternal(key string) {
	e.opts.External = append(e.opts.External, key)
}

// AddInheritFd tells CRIU to reconnect the restored descriptor number fd
// to the resource labelled key.
func (e *Engine) AddInheritFd(fd int, key string) {
	e.opts.InheritFd = append(e.opts.InheritFd, &rpc.InheritFd{
		Key: proto.String(key),
		Fd:  proto.Int32(int32(fd)),
	})
}

// InheritFile hands an open file to the swrk child and declares it as an
// inherited descriptor under key. The caller keeps ownership of f and must
// keep it open until the action call returns. Returns the descriptor
// number the file will have inside the child.
func (e *Engine) InheritFile(key string, f *os.File) int {
	fd := swrkExtraFilesBase + len(e.files)
	e.files = append(e.files, f)
	e.AddInheritFd(fd, key)
	return fd
}

// Dump issues the blocking DUMP call. The target process tree must have
// been declared via SetPid and SetRoot first.
func (e *Engine) Dump() error {
	_, err := e.doSwrk(rpc.CriuReqType_DUMP, e.opts)
	return err
}

// Restore issues the blocking RESTORE call and returns the pid of the
// restored root process as seen from the host.
func (e *Engine) Restore() (int, error) {
	e.opts.RstSibling = proto.Bool(true)
	resp, err := e.doSwrk(rpc.CriuReqType_RESTORE, e.opts)
	if err != nil {
		return 0, err
	}
	pid := int(resp.GetRestore().GetPid())
	if pid <= 0 {
		return 0, fmt.Errorf("criu restore returned pid %d", pid)
	}
	return pid, nil
}

// Version executes the VERSION RPC and returns the version as
// Major*10000 + Minor*100 + Sublevel.
func (e *Engine) Version() (int, error) {
	resp, err := e.doSwrk(rpc.CriuReqType_VERSION, nil)
	if err != nil {
		return 0, err
	}

	version := int(resp.GetVersion().GetMajorNumber()) * 10000
	version += int(resp.GetVersion().GetMinorNumber()) * 100
	version += int(resp.GetVersion().GetSublevel())

	if resp.GetVersion().GetGitid() != "" {
		// git builds report the previous release; round up
		version -= version % 100
		version += 100
	}

	return version, nil
}

func (e *Engine) doSwrk(t rpc.CriuReqType, opts *rpc.CriuOpts) (*rpc.CriuResp, error) {
	fds, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	client := os.NewFile(uintptr(fds[0]), "criu-xprt-cln")
	conn, err := net.FileConn(client)
	client.Close()
	if err != nil {
		unix.Close(fds[1])
		return nil, err
	}
	sk := conn.(*net.UnixConn)
	defer sk.Close()

	server := os.NewFile(uintptr(fds[1]), "criu-xprt-srv")
	cmd := exec.Command(e.binary, "swrk", "3")
	// the child shares our stdio so inherit-fd declarations indexed
	// 0-2 resolve to the caller's descriptors, not the child's
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = append([]*os.File{server}, e.files...)
	err = cmd.Start()
	// close our copy so a crashed swrk does not leave us hanging on reads
	server.Close()
	if err != nil {
		return nil, fmt.Errorf("start criu swrk: %w", err)
	}

	resp, convErr := converse(sk, &rpc.CriuReq{Type: &t, Opts: opts})
	sk.CloseWrite()
	waitErr := cmd.Wait()

	if convErr != nil {
		return nil, convErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("criu swrk exited: %w", waitErr)
	}
	return resp, nil
}

func converse(sk *net.UnixConn, req *rpc.CriuReq) (*rpc.CriuResp, error) {
	want := req.GetType()
	for {
		data, err := proto.Marshal(req)
		if err != nil {
			return nil, err
		}
		if _, err := sk.Write(data); err != nil {
			return nil, err
		}

		buf := make([]byte, 16*4096)
		n, _, _, _, err := sk.ReadMsgUnix(buf, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, errors.New("unexpected EOF from criu")
		}
		if n == len(buf) {
			return nil, errors.New("criu response too large")
		}

		resp := &rpc.CriuResp{}
		if err := proto.Unmarshal(buf[:n], resp); err != nil {
			return nil, err
		}
		if !resp.GetSuccess() {
			return resp, fmt.Errorf("criu failed (msg:%s err:%d)",
				resp.GetCrErrmsg(), resp.GetCrErrno())
		}

		respType := resp.GetType()
		if respType == rpc.CriuReqType_NOTIFY {
			// Notify scripts are never requested here, but ack them in
			// case CRIU sends one regardless.
			req = &rpc.CriuReq{Type: &respType, NotifySuccess: proto.Bool(true)}
			continue
		}
		if respType != want {
			return resp, fmt.Errorf("unexpected CRIU response type %s", respType)
		}
		return resp, nil
	}
}
