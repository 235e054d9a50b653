package uvc

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hexvoid/uvcd/internal/events"
	"github.com/hexvoid/uvcd/internal/v4l2"
	"github.com/hexvoid/uvcd/internal/video"
)

// Reactor is the event loop surface the UVC runtime registers with.
// It is implemented by *events.Loop; tests substitute a fake.
type Reactor interface {
	Watch(fd int, mask events.EventMask, cb func()) error
	Unwatch(fd int, mask events.EventMask) error
}

// Sink is the kernel-device surface the UVC runtime drives. It is
// implemented by *v4l2.Device; tests substitute a fake.
type Sink interface {
	Fd() int
	SetFormat(v4l2.PixFormat) (v4l2.PixFormat, error)
	RequestBuffers(count uint32) (*video.Pool, error)
	ReleaseBuffers() error
	Queue(*video.Buffer) error
	Dequeue() (*video.Buffer, error)
	StreamOn() error
	StreamOff() error
	SubscribeEvent(kind uint32) error
	DequeueEvent() (*v4l2.Event, error)
	SendResponse(*v4l2.RequestData) error
}

// StreamState is the orchestrator lifecycle state.
type StreamState int

const (
	// StateIdle: no format committed yet.
	StateIdle StreamState = iota
	// StateConfigured: format pushed to sink and source; the pool is
	// ready unless buffer allocation failed, in which case it is nil.
	StateConfigured
	// StateStreaming: buffers cycling through the kernel.
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrBadStreamState reports an enable/disable edge in the wrong state.
var ErrBadStreamState = errors.New("uvc: invalid stream state for transition")

// Stream glues source, buffer pool, and sink together and reacts to
// the host's stream edges. It owns the pool; sink and source are only
// borrowed.
type Stream struct {
	sink   Sink
	src    video.Source
	loop   Reactor
	logger *slog.Logger

	poolSize uint32
	pool     *video.Pool
	state    StreamState
}

// NewStream creates an orchestrator in Idle state.
func NewStream(sink Sink, src video.Source, loop Reactor, logger *slog.Logger, poolSize uint32) *Stream {
	if poolSize == 0 {
		poolSize = 4
	}
	return &Stream{
		sink:     sink,
		src:      src,
		loop:     loop,
		logger:   logger,
		poolSize: poolSize,
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// Pool exposes the current buffer pool (nil before the first commit).
func (s *Stream) Pool() *video.Pool { return s.pool }

// ApplyFormat pushes a committed format to sink and source and
// rebuilds the buffer pool. A stream in flight is stopped first so the
// kernel never sees a reconfiguration while transmitting.
func (s *Stream) ApplyFormat(pix v4l2.PixFormat) error {
	if s.state == StateStreaming {
		if err := s.disable(); err != nil {
			s.logger.Warn("stopping stream for reconfiguration", "error", err)
		}
	}

	adjusted, err := s.sink.SetFormat(pix)
	if err != nil {
		return fmt.Errorf("apply format: %w", err)
	}

	if err := s.src.SetFormat(adjusted.Width, adjusted.Height, adjusted.PixelFormat); err != nil {
		// The stream keeps its previous configuration (or stays Idle
		// on a first-ever commit).
		return fmt.Errorf("apply format: %w", err)
	}

	if s.pool != nil {
		s.src.FreeBuffers()
		if err := s.sink.ReleaseBuffers(); err != nil {
			s.logger.Warn("releasing stale buffers", "error", err)
		}
		s.pool = nil
	}

	pool, err := s.sink.RequestBuffers(s.poolSize)
	if err != nil {
		// Recoverable: stay configured without a pool and wait for the
		// host to renegotiate.
		s.state = StateConfigured
		return fmt.Errorf("apply format: %w", err)
	}

	s.pool = pool
	s.state = StateConfigured
	s.logger.Info("format configured",
		"width", adjusted.Width, "height", adjusted.Height,
		"fourcc", fourccString(adjusted.PixelFormat), "buffers", pool.Capacity())
	return nil
}

// SetFrameRate forwards the negotiated rate to the source.
func (s *Stream) SetFrameRate(fps uint32) {
	s.src.SetFrameRate(fps)
}

// Enable reacts to the host's STREAMON/STREAMOFF edges.
func (s *Stream) Enable(on bool) error {
	if on {
		return s.enable()
	}
	return s.disable()
}

func (s *Stream) enable() error {
	if s.state != StateConfigured || s.pool == nil {
		return fmt.Errorf("%w: streamon in %s", ErrBadStreamState, s.state)
	}

	// Prime the kernel queue: fill every free buffer once (static
	// sources render synchronously) and hand them all over before
	// starting the stream, as the kernel will not report readiness on
	// an empty queue.
	for {
		b := s.pool.AcquireFree()
		if b == nil {
			break
		}
		if s.src.Kind() == video.SourceStatic {
			if err := s.src.Fill(b); err != nil {
				return fmt.Errorf("prime buffer %d: %w", b.Index, err)
			}
		}
		if err := s.sink.Queue(b); err != nil {
			return fmt.Errorf("prime buffer %d: %w", b.Index, err)
		}
		if err := s.pool.MarkQueued(b); err != nil {
			return err
		}
	}

	if err := s.sink.StreamOn(); err != nil {
		return err
	}
	if err := s.src.StreamOn(); err != nil {
		s.logger.Warn("source stream on", "error", err)
	}

	if err := s.loop.Watch(s.sink.Fd(), events.Write, s.onBufferReady); err != nil {
		_ = s.sink.StreamOff()
		return err
	}

	s.state = StateStreaming
	s.logger.Info("stream enabled")
	return nil
}

func (s *Stream) disable() error {
	if s.state != StateStreaming {
		return fmt.Errorf("%w: streamoff in %s", ErrBadStreamState, s.state)
	}

	if err := s.loop.Unwatch(s.sink.Fd(), events.Write); err != nil {
		s.logger.Warn("unwatching sink", "error", err)
	}

	if err := s.src.StreamOff(); err != nil {
		s.logger.Warn("source stream off", "error", err)
	}
	if err := s.sink.StreamOff(); err != nil {
		return err
	}

	// Stream off hands every kernel-held buffer back; pick up any the
	// driver already completed, then reclaim the rest.
	for {
		b, err := s.sink.Dequeue()
		if err != nil {
			break
		}
		s.pool.MarkFree(b)
	}
	for _, b := range s.pool.Buffers() {
		if b.State() == video.BufferQueued {
			s.pool.MarkFree(b)
		}
	}

	s.state = StateConfigured
	s.logger.Info("stream disabled")
	return nil
}

// onBufferReady runs whenever the kernel reports a transmitted buffer.
// One buffer is recycled per readiness edge: dequeue, refill, requeue.
func (s *Stream) onBufferReady() {
	b, err := s.sink.Dequeue()
	if err != nil {
		if !errors.Is(err, v4l2.ErrWouldBlock) {
			s.logger.Error("dequeuing buffer", "error", err)
		}
		return
	}
	if err := s.pool.MarkFilled(b, b.BytesUsed); err != nil {
		s.logger.Error("recycling buffer", "error", err)
		return
	}

	if s.src.Kind() == video.SourceActive {
		// Active sources requeue through their own delivery path.
		if err := s.src.Queue(b); err != nil {
			s.logger.Error("queuing buffer to source", "error", err)
			s.pool.MarkFree(b)
		}
		return
	}

	if err := s.src.Fill(b); err != nil {
		s.logger.Error("filling buffer", "error", err)
		s.pool.MarkFree(b)
		return
	}

	if err := s.sink.Queue(b); err != nil {
		s.logger.Error("requeuing buffer", "error", err)
		s.pool.MarkFree(b)
		return
	}
	if err := s.pool.MarkQueued(b); err != nil {
		s.logger.Error("requeuing buffer", "error", err)
	}
}

// Shutdown stops streaming if needed and releases the pool. Called
// once on daemon exit.
func (s *Stream) Shutdown() {
	if s.state == StateStreaming {
		if err := s.disable(); err != nil {
			s.logger.Warn("disabling stream on shutdown", "error", err)
		}
	}
	if s.pool != nil {
		s.src.FreeBuffers()
		if err := s.sink.ReleaseBuffers(); err != nil {
			s.logger.Warn("releasing buffers on shutdown", "error", err)
		}
		s.pool = nil
	}
	s.state = StateIdle
}

func fourccString(fcc uint32) string {
	return string([]byte{byte(fcc), byte(fcc >> 8), byte(fcc >> 16), byte(fcc >> 24)})
}
