//go:build linux && (amd64 || arm64)

package v4l2

import "unsafe"

// Kernel ABI structures and constants from linux/videodev2.h and
// linux/usb/g_uvc.h. Layouts are the LP64 variants; the ioctl request
// numbers are derived from the struct sizes so they stay consistent
// with the declarations below.

const (
	BufTypeVideoOutput = 2

	MemoryMmap = 1

	FieldNone = 1
)

// FourCC builds a V4L2 pixel format code from its four characters.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var (
	PixFmtYUYV  = FourCC('Y', 'U', 'Y', 'V')
	PixFmtMJPEG = FourCC('M', 'J', 'P', 'G')
)

// PixFormat mirrors struct v4l2_pix_format.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// format mirrors struct v4l2_format for the single-planar case. The
// fmt union is 200 bytes and 8-byte aligned on LP64.
type format struct {
	typ uint32
	_   uint32
	pix PixFormat
	_   [200 - unsafe.Sizeof(PixFormat{})]byte
}

// requestBuffers mirrors struct v4l2_requestbuffers.
type requestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	_            [3]uint8
}

type timeval struct {
	sec  int64
	usec int64
}

type timespec struct {
	sec  int64
	nsec int64
}

type timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// buffer mirrors struct v4l2_buffer. The m union carries the mmap
// offset in its low word for V4L2_MEMORY_MMAP.
type buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	_         uint32
	timestamp timeval
	timecode  timecode
	sequence  uint32
	memory    uint32
	offset    uint32
	_         uint32
	length    uint32
	reserved2 uint32
	requestFD int32
	_         uint32
}

// eventSubscription mirrors struct v4l2_event_subscription.
type eventSubscription struct {
	typ      uint32
	id       uint32
	flags    uint32
	reserved [5]uint32
}

// Event mirrors struct v4l2_event. U is the 64-byte event payload
// union, interpreted by the UVC control state machine.
type Event struct {
	Type      uint32
	_         uint32
	U         [64]byte
	Pending   uint32
	Sequence  uint32
	Timestamp timespec
	ID        uint32
	Reserved  [8]uint32
	_         uint32
}

// RequestData mirrors struct uvc_request_data. Length below zero tells
// the gadget driver to stall instead of answering; zero and above is
// the number of valid bytes in Data.
type RequestData struct {
	Length int32
	Data   [60]byte
}

// UVC gadget event types, linux/usb/g_uvc.h
const (
	eventPrivateStart = 0x08000000

	EventConnect    = eventPrivateStart + 0
	EventDisconnect = eventPrivateStart + 1
	EventStreamOn   = eventPrivateStart + 2
	EventStreamOff  = eventPrivateStart + 3
	EventSetup      = eventPrivateStart + 4
	EventData       = eventPrivateStart + 5
)

var (
	vidiocSFmt           = ioWR('V', 5, unsafe.Sizeof(format{}))
	vidiocGFmt           = ioWR('V', 4, unsafe.Sizeof(format{}))
	vidiocReqBufs        = ioWR('V', 8, unsafe.Sizeof(requestBuffers{}))
	vidiocQueryBuf       = ioWR('V', 9, unsafe.Sizeof(buffer{}))
	vidiocQBuf           = ioWR('V', 15, unsafe.Sizeof(buffer{}))
	vidiocDQBuf          = ioWR('V', 17, unsafe.Sizeof(buffer{}))
	vidiocStreamOn       = ioW('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff      = ioW('V', 19, unsafe.Sizeof(int32(0)))
	vidiocSubscribeEvent = ioW('V', 90, unsafe.Sizeof(eventSubscription{}))
	vidiocDQEvent        = ioR('V', 89, unsafe.Sizeof(Event{}))

	uvciocSendResponse = ioW('U', 1, unsafe.Sizeof(RequestData{}))
)
