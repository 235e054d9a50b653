package configfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hexvoid/uvcd/internal/configfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// buildTree creates a gadget tree with one uvc function: two YUYV
// frames and one MJPEG frame.
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	fn := filepath.Join(root, "g1", "functions", "uvc.0")

	writeFile(t, filepath.Join(fn, "streaming_maxpacket"), "1024\n")
	writeFile(t, filepath.Join(fn, "control", "bInterfaceNumber"), "0\n")
	writeFile(t, filepath.Join(fn, "streaming", "bInterfaceNumber"), "1\n")

	u360 := filepath.Join(fn, "streaming", "uncompressed", "u", "360p")
	writeFile(t, filepath.Join(u360, "wWidth"), "640\n")
	writeFile(t, filepath.Join(u360, "wHeight"), "360\n")
	writeFile(t, filepath.Join(u360, "dwMinBitRate"), "18432000\n")
	writeFile(t, filepath.Join(u360, "dwMaxBitRate"), "55296000\n")
	writeFile(t, filepath.Join(u360, "dwDefaultFrameInterval"), "666666\n")
	writeFile(t, filepath.Join(u360, "dwFrameInterval"), "166666\n333333\n666666\n")

	u720 := filepath.Join(fn, "streaming", "uncompressed", "u", "720p")
	writeFile(t, filepath.Join(u720, "wWidth"), "1280\n")
	writeFile(t, filepath.Join(u720, "wHeight"), "720\n")
	writeFile(t, filepath.Join(u720, "dwMinBitRate"), "29491200\n")
	writeFile(t, filepath.Join(u720, "dwMaxBitRate"), "29491200\n")
	writeFile(t, filepath.Join(u720, "dwDefaultFrameInterval"), "5000000\n")
	writeFile(t, filepath.Join(u720, "dwFrameInterval"), "5000000\n")

	m1080 := filepath.Join(fn, "streaming", "mjpeg", "m", "1080p")
	writeFile(t, filepath.Join(m1080, "wWidth"), "1920\n")
	writeFile(t, filepath.Join(m1080, "wHeight"), "1080\n")
	writeFile(t, filepath.Join(m1080, "dwFrameInterval"), "333333\n")

	return root
}

func TestParseFromQualifiedName(t *testing.T) {
	root := buildTree(t)

	fc, err := configfs.ParseFrom(root, "g1/functions/uvc.0")
	require.NoError(t, err)

	assert.Equal(t, "uvc.0", fc.Name)
	assert.Equal(t, uint16(1024), fc.MaxPacketSize)
	assert.Equal(t, uint8(0), fc.ControlInterface)
	assert.Equal(t, uint8(1), fc.StreamingInterface)

	require.Equal(t, 2, fc.NumFormats())

	yuyv := fc.Formats[0]
	require.Len(t, yuyv.Frames, 2)
	assert.Equal(t, uint32(640), yuyv.Frames[0].Width)
	assert.Equal(t, uint32(360), yuyv.Frames[0].Height)
	assert.Equal(t, []uint32{166666, 333333, 666666}, yuyv.Frames[0].Intervals)
	assert.Equal(t, uint32(666666), yuyv.Frames[0].DefaultInterval)
	assert.Equal(t, uint32(1280), yuyv.Frames[1].Width)

	mjpeg := fc.Formats[1]
	require.Len(t, mjpeg.Frames, 1)
	assert.Equal(t, uint32(1920), mjpeg.Frames[0].Width)
	assert.Equal(t, uint32(1080), mjpeg.Frames[0].Height)
}

func TestParseFromShortName(t *testing.T) {
	root := buildTree(t)

	fc, err := configfs.ParseFrom(root, "uvc.0")
	require.NoError(t, err)
	assert.Equal(t, "uvc.0", fc.Name)
}

func TestParseFromDefaultsToUvc0(t *testing.T) {
	root := buildTree(t)

	fc, err := configfs.ParseFrom(root, "")
	require.NoError(t, err)
	assert.Equal(t, "uvc.0", fc.Name)
}

func TestParseAmbiguousShortName(t *testing.T) {
	root := buildTree(t)

	// A second gadget exposing the same function name.
	other := filepath.Join(root, "g2", "functions", "uvc.0")
	writeFile(t, filepath.Join(other, "streaming_maxpacket"), "1024\n")

	_, err := configfs.ParseFrom(root, "uvc.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestParseMissingFunction(t *testing.T) {
	root := buildTree(t)

	_, err := configfs.ParseFrom(root, "uvc.9")
	require.ErrorIs(t, err, configfs.ErrNotFound)
}

func TestParseMissingMaxPacket(t *testing.T) {
	root := t.TempDir()
	fn := filepath.Join(root, "g1", "functions", "uvc.0")
	require.NoError(t, os.MkdirAll(fn, 0o755))

	_, err := configfs.ParseFrom(root, "uvc.0")
	require.Error(t, err)
}

func TestParseNoFormats(t *testing.T) {
	root := t.TempDir()
	fn := filepath.Join(root, "g1", "functions", "uvc.0")
	writeFile(t, filepath.Join(fn, "streaming_maxpacket"), "3072\n")

	_, err := configfs.ParseFrom(root, "uvc.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no streaming formats")
}

func TestParseMalformedInterval(t *testing.T) {
	root := buildTree(t)
	bad := filepath.Join(root, "g1", "functions", "uvc.0",
		"streaming", "uncompressed", "u", "360p", "dwFrameInterval")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-number\n"), 0o644))

	_, err := configfs.ParseFrom(root, "uvc.0")
	require.Error(t, err)
}

func TestInterfaceNumberDefaults(t *testing.T) {
	root := t.TempDir()
	fn := filepath.Join(root, "g1", "functions", "uvc.0")
	writeFile(t, filepath.Join(fn, "streaming_maxpacket"), "3072\n")

	u := filepath.Join(fn, "streaming", "uncompressed", "u", "360p")
	writeFile(t, filepath.Join(u, "wWidth"), "640\n")
	writeFile(t, filepath.Join(u, "wHeight"), "360\n")
	writeFile(t, filepath.Join(u, "dwFrameInterval"), "333333\n")

	fc, err := configfs.ParseFrom(root, "uvc.0")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), fc.ControlInterface)
	assert.Equal(t, uint8(1), fc.StreamingInterface)
}
