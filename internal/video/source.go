package video

import "errors"

// ErrInvalidFormat is returned when a source rejects a pixel format.
var ErrInvalidFormat = errors.New("video: invalid pixel format")

// SourceKind distinguishes how a source delivers frames.
type SourceKind int

const (
	// SourceStatic produces a frame on demand into a caller buffer.
	SourceStatic SourceKind = iota
	// SourceActive produces frames autonomously and is handed buffers
	// to fill at its own pace.
	SourceActive
)

// Source produces pixel frames for the streaming engine.
//
// Static sources implement Fill; Queue is a no-op for them. Active
// sources implement Queue and deliver completed buffers through their
// own machinery; Fill is a no-op.
type Source interface {
	Kind() SourceKind

	// SetFormat configures the frame geometry and pixel format. A
	// source that cannot produce the format returns ErrInvalidFormat.
	SetFormat(width, height, pixelFormat uint32) error

	SetFrameRate(fps uint32)

	StreamOn() error
	StreamOff() error

	// Fill renders the next frame into b and sets b.BytesUsed.
	Fill(b *Buffer) error

	// Queue hands b to an active source for asynchronous filling.
	Queue(b *Buffer) error

	FreeBuffers()
	Destroy()
}

// NopSource provides default no-op behavior for the optional Source
// operations. Concrete sources embed it and override what they need.
type NopSource struct{}

func (NopSource) SetFrameRate(uint32) {}
func (NopSource) StreamOn() error     { return nil }
func (NopSource) StreamOff() error    { return nil }
func (NopSource) Fill(*Buffer) error  { return nil }
func (NopSource) Queue(*Buffer) error { return nil }
func (NopSource) FreeBuffers()        {}
func (NopSource) Destroy()            {}
