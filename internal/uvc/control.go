// Package uvc implements the class-request state machine and the
// stream orchestration for a UVC gadget function.
package uvc

import (
	"encoding/binary"
	"fmt"
)

// Class-specific request codes, UVC 1.1 §A.8.
const (
	ReqUndefined = 0x00
	SetCur       = 0x01
	GetCur       = 0x81
	GetMin       = 0x82
	GetMax       = 0x83
	GetRes       = 0x84
	GetLen       = 0x85
	GetInfo      = 0x86
	GetDef       = 0x87
)

// VideoStreaming control selectors, UVC 1.1 §A.9.7.
const (
	VSProbeControl  = 0x01
	VSCommitControl = 0x02
)

var requestNames = map[uint8]string{
	ReqUndefined: "UNDEFINED",
	SetCur:       "SET_CUR",
	GetCur:       "GET_CUR",
	GetMin:       "GET_MIN",
	GetMax:       "GET_MAX",
	GetRes:       "GET_RES",
	GetLen:       "GET_LEN",
	GetInfo:      "GET_INFO",
	GetDef:       "GET_DEF",
}

// RequestName resolves a class request code for log output.
func RequestName(req uint8) string {
	if n, ok := requestNames[req]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%#02x)", req)
}

// StreamingControlLen is the UVC 1.1 wire size of the probe/commit
// block.
const StreamingControlLen = 34

// StreamingControl is the video probe and commit control block,
// UVC 1.1 §4.3.1.1. All fields are little-endian on the wire.
type StreamingControl struct {
	BmHint                   uint16
	BFormatIndex             uint8
	BFrameIndex              uint8
	DwFrameInterval          uint32
	WKeyFrameRate            uint16
	WPFrameRate              uint16
	WCompQuality             uint16
	WCompWindowSize          uint16
	WDelay                   uint16
	DwMaxVideoFrameSize      uint32
	DwMaxPayloadTransferSize uint32
	DwClockFrequency         uint32
	BmFramingInfo            uint8
	BPreferedVersion         uint8
	BMinVersion              uint8
	BMaxVersion              uint8
}

// Put writes the wire representation into b, which must hold at least
// StreamingControlLen bytes.
func (c *StreamingControl) Put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], c.BmHint)
	b[2] = c.BFormatIndex
	b[3] = c.BFrameIndex
	binary.LittleEndian.PutUint32(b[4:8], c.DwFrameInterval)
	binary.LittleEndian.PutUint16(b[8:10], c.WKeyFrameRate)
	binary.LittleEndian.PutUint16(b[10:12], c.WPFrameRate)
	binary.LittleEndian.PutUint16(b[12:14], c.WCompQuality)
	binary.LittleEndian.PutUint16(b[14:16], c.WCompWindowSize)
	binary.LittleEndian.PutUint16(b[16:18], c.WDelay)
	binary.LittleEndian.PutUint32(b[18:22], c.DwMaxVideoFrameSize)
	binary.LittleEndian.PutUint32(b[22:26], c.DwMaxPayloadTransferSize)
	binary.LittleEndian.PutUint32(b[26:30], c.DwClockFrequency)
	b[30] = c.BmFramingInfo
	b[31] = c.BPreferedVersion
	b[32] = c.BMinVersion
	b[33] = c.BMaxVersion
}

// Bytes returns the 34-byte wire representation.
func (c *StreamingControl) Bytes() []byte {
	out := make([]byte, StreamingControlLen)
	c.Put(out)
	return out
}

// ParseStreamingControl decodes a probe/commit block from the wire.
func ParseStreamingControl(b []byte) (StreamingControl, error) {
	if len(b) < StreamingControlLen {
		return StreamingControl{}, fmt.Errorf("streaming control too short: %d bytes", len(b))
	}
	return StreamingControl{
		BmHint:                   binary.LittleEndian.Uint16(b[0:2]),
		BFormatIndex:             b[2],
		BFrameIndex:              b[3],
		DwFrameInterval:          binary.LittleEndian.Uint32(b[4:8]),
		WKeyFrameRate:            binary.LittleEndian.Uint16(b[8:10]),
		WPFrameRate:              binary.LittleEndian.Uint16(b[10:12]),
		WCompQuality:             binary.LittleEndian.Uint16(b[12:14]),
		WCompWindowSize:          binary.LittleEndian.Uint16(b[14:16]),
		WDelay:                   binary.LittleEndian.Uint16(b[16:18]),
		DwMaxVideoFrameSize:      binary.LittleEndian.Uint32(b[18:22]),
		DwMaxPayloadTransferSize: binary.LittleEndian.Uint32(b[22:26]),
		DwClockFrequency:         binary.LittleEndian.Uint32(b[26:30]),
		BmFramingInfo:            b[30],
		BPreferedVersion:         b[31],
		BMinVersion:              b[32],
		BMaxVersion:              b[33],
	}, nil
}
