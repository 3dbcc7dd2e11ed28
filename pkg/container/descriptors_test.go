package container

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inheritCall struct {
	fd  int
	key string
}

func collectInherits(fds []*string) []inheritCall {
	var calls []inheritCall
	applyDescriptors(fds, func(fd int, key string) {
		calls = append(calls, inheritCall{fd, key})
	})
	return calls
}

func TestDescriptorsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	status := &Status{ExternalDescriptors: `["/dev/null","pipe:[12345]","/dev/pts/0"]`}
	require.NoError(t, writeDescriptors(dir, status))

	raw, fds, err := loadDescriptors(dir)
	require.NoError(t, err)
	assert.Equal(t, status.ExternalDescriptors, raw)
	require.Len(t, fds, 3)

	calls := collectInherits(fds)
	require.Len(t, calls, 1, "only the pipe entry produces a declaration")
	assert.Equal(t, 1, calls[0].fd)
	assert.Equal(t, "pipe:[12345]", calls[0].key)
}

func TestDescriptorsNonPipeEntriesIgnored(t *testing.T) {
	dir := t.TempDir()
	status := &Status{ExternalDescriptors: `["/dev/null","/var/log/out","socket:[999]"]`}
	require.NoError(t, writeDescriptors(dir, status))

	_, fds, err := loadDescriptors(dir)
	require.NoError(t, err)
	assert.Empty(t, collectInherits(fds))
}

func TestDescriptorsNullEntriesSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeDescriptors(dir, &Status{ExternalDescriptors: `[null,"pipe:[7]",null]`}))

	_, fds, err := loadDescriptors(dir)
	require.NoError(t, err)
	calls := collectInherits(fds)
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].fd)
}

func TestDescriptorsEmptyValueStillCreatesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeDescriptors(dir, &Status{}))

	data, err := os.ReadFile(filepath.Join(dir, descriptorsFilename))
	require.NoError(t, err)
	assert.Empty(t, data)

	// an empty side file is not valid JSON: restore must fail to parse it
	_, _, err = loadDescriptors(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse")
}

func TestDescriptorsOverwritten(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeDescriptors(dir, &Status{ExternalDescriptors: `["a","b","c"]`}))
	require.NoError(t, writeDescriptors(dir, &Status{ExternalDescriptors: `["x","y","z"]`}))

	raw, _, err := loadDescriptors(dir)
	require.NoError(t, err)
	assert.Equal(t, `["x","y","z"]`, raw)
}

func TestDescriptorsMissingFile(t *testing.T) {
	_, _, err := loadDescriptors(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDescriptorsRejectsNonArray(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, descriptorsFilename), []byte(`{"fds":3}`), 0o600))

	_, _, err := loadDescriptors(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse")
}

func TestDescribeDescriptors(t *testing.T) {
	out, err := DescribeDescriptors(os.Getpid())
	require.NoError(t, err)

	var fds []string
	require.NoError(t, json.Unmarshal([]byte(out), &fds))
	assert.Len(t, fds, 3)
}
