// Package configfs reads the UVC function configuration from the
// kernel's gadget configfs tree. The result is immutable: it is
// parsed once at startup and shared read-only afterwards.
package configfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultRoot is where the kernel mounts the gadget configfs tree.
const DefaultRoot = "/sys/kernel/config/usb_gadget"

// ErrNotFound reports that no matching UVC function exists.
var ErrNotFound = errors.New("configfs: uvc function not found")

// Frame is one resolution with its supported frame intervals in
// 100 ns units, in the order the gadget declares them.
type Frame struct {
	Width           uint32
	Height          uint32
	MinBitRate      uint32
	MaxBitRate      uint32
	DefaultInterval uint32
	Intervals       []uint32
}

// Format is one pixel format with its frames. Wire indices are the
// 1-based positions in the parent slice.
type Format struct {
	FCC    uint32
	Frames []Frame
}

// Function is the parsed UVC function configuration.
type Function struct {
	Name string
	Path string

	// VideoDevice is the bound /dev/videoN node, empty when the
	// function has not been bound to a UDC yet.
	VideoDevice string

	ControlInterface   uint8
	StreamingInterface uint8

	// MaxPacketSize is the streaming endpoint wMaxPacketSize.
	MaxPacketSize uint16

	Formats []Format
}

// NumFormats returns the declared format count.
func (f *Function) NumFormats() int { return len(f.Formats) }

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	fccYUYV  = fourcc('Y', 'U', 'Y', 'V')
	fccMJPEG = fourcc('M', 'J', 'P', 'G')
)

// Parse resolves and reads the configuration for a function specifier
// like "uvc.0" or "g1/functions/uvc.0" under the default root.
func Parse(function string) (*Function, error) {
	return ParseFrom(DefaultRoot, function)
}

// ParseFrom is Parse with an explicit tree root.
func ParseFrom(root, function string) (*Function, error) {
	fnPath, err := resolveFunction(root, function)
	if err != nil {
		return nil, err
	}

	fc := &Function{
		Name: filepath.Base(fnPath),
		Path: fnPath,

		// The gadget allocates interface 0 to VideoControl and 1 to
		// VideoStreaming unless the tree says otherwise.
		StreamingInterface: 1,
	}

	if v, err := readUint(filepath.Join(fnPath, "streaming_maxpacket"), 16); err == nil {
		fc.MaxPacketSize = uint16(v)
	} else {
		return nil, fmt.Errorf("configfs: %s: %w", fc.Name, err)
	}

	if v, err := readUint(filepath.Join(fnPath, "control", "bInterfaceNumber"), 8); err == nil {
		fc.ControlInterface = uint8(v)
	}
	if v, err := readUint(filepath.Join(fnPath, "streaming", "bInterfaceNumber"), 8); err == nil {
		fc.StreamingInterface = uint8(v)
	}

	if err := parseFormats(fc); err != nil {
		return nil, err
	}
	if len(fc.Formats) == 0 {
		return nil, fmt.Errorf("configfs: %s: no streaming formats declared", fc.Name)
	}

	fc.VideoDevice = resolveVideoDevice(fnPath)

	return fc, nil
}

// resolveFunction locates the function directory. A bare name like
// "uvc.0" is searched across all gadgets; a qualified specifier like
// "g1/functions/uvc.0" is taken relative to the root.
func resolveFunction(root, function string) (string, error) {
	if function == "" {
		function = "uvc.0"
	}

	if strings.Contains(function, "/") {
		p := filepath.Join(root, function)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, function)
		}
		return p, nil
	}

	matches, err := filepath.Glob(filepath.Join(root, "*", "functions", function))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, function)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("configfs: ambiguous function %q, qualify with the gadget name", function)
	}
	return matches[0], nil
}

// parseFormats enumerates streaming/uncompressed (YUYV) and
// streaming/mjpeg (MJPEG) in that order; frame directories sort by
// name so that wire indices are stable across runs.
func parseFormats(fc *Function) error {
	classes := []struct {
		dir string
		fcc uint32
	}{
		{"uncompressed", fccYUYV},
		{"mjpeg", fccMJPEG},
	}

	for _, class := range classes {
		classPath := filepath.Join(fc.Path, "streaming", class.dir)
		entries, err := os.ReadDir(classPath)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			format := Format{FCC: class.fcc}
			if err := parseFrames(&format, filepath.Join(classPath, entry.Name())); err != nil {
				return fmt.Errorf("configfs: %s/%s: %w", class.dir, entry.Name(), err)
			}
			if len(format.Frames) > 0 {
				fc.Formats = append(fc.Formats, format)
			}
		}
	}

	return nil
}

func parseFrames(format *Format, formatPath string) error {
	entries, err := os.ReadDir(formatPath)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		framePath := filepath.Join(formatPath, name)
		var frame Frame

		w, err := readUint(filepath.Join(framePath, "wWidth"), 32)
		if err != nil {
			return err
		}
		h, err := readUint(filepath.Join(framePath, "wHeight"), 32)
		if err != nil {
			return err
		}
		frame.Width = uint32(w)
		frame.Height = uint32(h)

		if v, err := readUint(filepath.Join(framePath, "dwMinBitRate"), 32); err == nil {
			frame.MinBitRate = uint32(v)
		}
		if v, err := readUint(filepath.Join(framePath, "dwMaxBitRate"), 32); err == nil {
			frame.MaxBitRate = uint32(v)
		}
		if v, err := readUint(filepath.Join(framePath, "dwDefaultFrameInterval"), 32); err == nil {
			frame.DefaultInterval = uint32(v)
		}

		intervals, err := readUintList(filepath.Join(framePath, "dwFrameInterval"))
		if err != nil {
			return err
		}
		if len(intervals) == 0 {
			return fmt.Errorf("%s: empty dwFrameInterval", name)
		}
		frame.Intervals = intervals

		format.Frames = append(format.Frames, frame)
	}

	return nil
}

// resolveVideoDevice follows the gadget's UDC binding to the video
// node the uvc function driver registered.
func resolveVideoDevice(fnPath string) string {
	gadgetPath := filepath.Dir(filepath.Dir(fnPath))

	udc, err := os.ReadFile(filepath.Join(gadgetPath, "UDC"))
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(udc))
	if name == "" {
		return ""
	}

	matches, _ := filepath.Glob(filepath.Join("/sys/class/udc", name, "device", "gadget*", "video4linux", "video*"))
	if len(matches) == 0 {
		return ""
	}
	return "/dev/" + filepath.Base(matches[0])
}

func readUint(path string, bits int) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func readUintList(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []uint32
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
