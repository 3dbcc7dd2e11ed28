package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// descriptors.json records where stdio descriptors 0-2 pointed at
// checkpoint time, so restore can reconnect them.
const descriptorsFilename = "descriptors.json"

const pipePrefix = "pipe:"

// DescribeDescriptors reads where descriptors 0, 1 and 2 of pid currently
// point and returns the serialized provenance for Status.ExternalDescriptors.
// Descriptors that cannot be read due to permissions (rootless or otherwise
// non-dumpable processes) are left empty.
func DescribeDescriptors(pid int) (string, error) {
	fds := make([]string, 3)

	dirPath := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	for i := 0; i < 3; i++ {
		target, err := os.Readlink(filepath.Join(dirPath, strconv.Itoa(i)))
		if err != nil {
			if os.IsPermission(err) {
				continue
			}
			return "", fmt.Errorf("describe descriptor %d of pid %d: %w", i, pid, err)
		}
		fds[i] = target
	}

	data, err := json.Marshal(fds)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeDescriptors persists the stdio provenance next to the image files.
// The side file is created even when no provenance was recorded, since
// restore reads it unconditionally.
func writeDescriptors(imagePath string, status *Status) error {
	path := filepath.Join(imagePath, descriptorsFilename)
	if err := os.WriteFile(path, []byte(status.ExternalDescriptors), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// loadDescriptors reads the side file back. A missing or unreadable file
// is an I/O error; anything that is not a JSON array of strings (null
// entries allowed) is a parse error.
func loadDescriptors(imagePath string) (raw string, fds []*string, err error) {
	path := filepath.Join(imagePath, descriptorsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &fds); err != nil {
		return "", nil, fmt.Errorf("cannot parse descriptors file %s: %w", descriptorsFilename, err)
	}
	return string(data), fds, nil
}

// applyDescriptors replays the provenance: every entry pointing at a pipe
// is declared as an inherited descriptor so the engine reconnects it.
// All other entries (regular files, terminals) are restored by the engine
// from its own image data and need no declaration.
func applyDescriptors(fds []*string, declareInherit func(fd int, key string)) {
	for i, fd := range fds {
		if fd == nil {
			continue
		}
		if strings.HasPrefix(*fd, pipePrefix) {
			declareInherit(i, *fd)
		}
	}
}
