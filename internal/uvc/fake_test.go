package uvc_test

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hexvoid/uvcd/internal/configfs"
	"github.com/hexvoid/uvcd/internal/events"
	"github.com/hexvoid/uvcd/internal/v4l2"
	"github.com/hexvoid/uvcd/internal/video"
)

// fakeSink models the kernel side of the video node: a FIFO of queued
// buffers, an event queue, and a response log.
type fakeSink struct {
	fd      int
	bufSize uint32

	format       v4l2.PixFormat
	setFormatErr error
	reqBufsErr   error

	bufs      []*video.Buffer
	queued    []*video.Buffer
	completed []*video.Buffer
	streaming bool
	released  int

	subscribed []uint32
	pending    []*v4l2.Event
	responses  []v4l2.RequestData
}

func newFakeSink() *fakeSink {
	return &fakeSink{fd: 42, bufSize: 1280 * 720 * 2}
}

func (f *fakeSink) Fd() int { return f.fd }

func (f *fakeSink) SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	if f.setFormatErr != nil {
		return v4l2.PixFormat{}, f.setFormatErr
	}
	f.format = pix
	return pix, nil
}

func (f *fakeSink) RequestBuffers(count uint32) (*video.Pool, error) {
	if f.reqBufsErr != nil {
		return nil, f.reqBufsErr
	}
	f.bufs = make([]*video.Buffer, count)
	for i := range f.bufs {
		f.bufs[i] = &video.Buffer{Index: uint32(i), Mem: make([]byte, f.bufSize)}
	}
	return video.NewPool(f.bufs), nil
}

func (f *fakeSink) ReleaseBuffers() error {
	f.bufs = nil
	f.queued = nil
	f.completed = nil
	f.released++
	return nil
}

func (f *fakeSink) Queue(b *video.Buffer) error {
	for _, q := range f.queued {
		if q == b {
			return fmt.Errorf("buffer %d already queued", b.Index)
		}
	}
	f.queued = append(f.queued, b)
	return nil
}

func (f *fakeSink) Dequeue() (*video.Buffer, error) {
	if len(f.completed) == 0 {
		return nil, v4l2.ErrWouldBlock
	}
	b := f.completed[0]
	f.completed = f.completed[1:]
	return b, nil
}

// complete simulates the kernel transmitting the oldest n queued
// buffers, making them dequeuable.
func (f *fakeSink) complete(n int) {
	for i := 0; i < n && len(f.queued) > 0; i++ {
		f.completed = append(f.completed, f.queued[0])
		f.queued = f.queued[1:]
	}
}

func (f *fakeSink) StreamOn() error {
	f.streaming = true
	return nil
}

func (f *fakeSink) StreamOff() error {
	f.streaming = false
	f.queued = nil
	f.completed = nil
	return nil
}

func (f *fakeSink) SubscribeEvent(kind uint32) error {
	f.subscribed = append(f.subscribed, kind)
	return nil
}

func (f *fakeSink) DequeueEvent() (*v4l2.Event, error) {
	if len(f.pending) == 0 {
		return nil, v4l2.ErrWouldBlock
	}
	ev := f.pending[0]
	f.pending = f.pending[1:]
	return ev, nil
}

func (f *fakeSink) pushEvent(ev *v4l2.Event) {
	f.pending = append(f.pending, ev)
}

func (f *fakeSink) SendResponse(resp *v4l2.RequestData) error {
	f.responses = append(f.responses, *resp)
	return nil
}

func (f *fakeSink) lastResponse() v4l2.RequestData {
	return f.responses[len(f.responses)-1]
}

// fakeReactor records watch registrations without an epoll instance.
// Tests fire callbacks by hand to simulate readiness edges.
type fakeReactor struct {
	watches map[int]events.EventMask
	cbs     map[events.EventMask]func()
}

func (r *fakeReactor) Watch(fd int, mask events.EventMask, cb func()) error {
	if r.watches == nil {
		r.watches = make(map[int]events.EventMask)
		r.cbs = make(map[events.EventMask]func())
	}
	r.watches[fd] |= mask
	r.cbs[mask] = cb
	return nil
}

func (r *fakeReactor) Unwatch(fd int, mask events.EventMask) error {
	if r.watches != nil {
		r.watches[fd] &^= mask
		delete(r.cbs, mask)
	}
	return nil
}

// fire invokes the callback registered for mask, if any.
func (r *fakeReactor) fire(mask events.EventMask) bool {
	cb, ok := r.cbs[mask]
	if ok {
		cb()
	}
	return ok
}

// fakeSource records the calls the orchestrator makes.
type fakeSource struct {
	video.NopSource

	width, height uint32
	fcc           uint32
	fps           uint32
	streaming     bool
	fills         int
	formatErr     error
}

func (s *fakeSource) Kind() video.SourceKind { return video.SourceStatic }

func (s *fakeSource) SetFormat(width, height, fcc uint32) error {
	if s.formatErr != nil {
		return s.formatErr
	}
	s.width, s.height, s.fcc = width, height, fcc
	return nil
}

func (s *fakeSource) SetFrameRate(fps uint32) { s.fps = fps }

func (s *fakeSource) StreamOn() error {
	s.streaming = true
	return nil
}

func (s *fakeSource) StreamOff() error {
	s.streaming = false
	return nil
}

func (s *fakeSource) Fill(b *video.Buffer) error {
	s.fills++
	b.BytesUsed = s.width * s.height * 2
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func yuyvFCC() uint32 {
	return uint32('Y') | uint32('U')<<8 | uint32('Y')<<16 | uint32('V')<<24
}

func mjpegFCC() uint32 {
	return uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24
}

// singleFormatFunction is the scenario configuration: one YUYV format
// with 640x360 and 1280x720 frames.
func singleFormatFunction() *configfs.Function {
	return &configfs.Function{
		Name:               "uvc.0",
		ControlInterface:   0,
		StreamingInterface: 1,
		MaxPacketSize:      1024,
		Formats: []configfs.Format{
			{
				FCC: yuyvFCC(),
				Frames: []configfs.Frame{
					{Width: 640, Height: 360, Intervals: []uint32{166666, 200000, 333333, 500000}},
					{Width: 1280, Height: 720, Intervals: []uint32{333333, 500000}},
				},
			},
		},
	}
}

func dualFormatFunction() *configfs.Function {
	fc := singleFormatFunction()
	fc.Formats = append(fc.Formats, configfs.Format{
		FCC: mjpegFCC(),
		Frames: []configfs.Frame{
			{Width: 1920, Height: 1080, Intervals: []uint32{333333}},
		},
	})
	return fc
}
