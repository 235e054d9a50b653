//go:build linux && (amd64 || arm64)

// Package v4l2 wraps the UVC gadget video node: format negotiation,
// buffer allocation and exchange, stream control, and the UVC event
// and response ioctls.
package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hexvoid/uvcd/internal/video"
)

// ErrWouldBlock signals an empty kernel queue on a non-blocking
// dequeue. It is not a failure; it means wait for readiness.
var ErrWouldBlock = errors.New("v4l2: no buffer available")

// Device owns the kernel video node. All buffer traffic uses the
// output buffer type with mmap memory, matching the gadget driver.
type Device struct {
	path string
	fd   int

	format PixFormat
	bufs   []*video.Buffer
}

// Open opens the video node read/write and non-blocking.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Close releases any outstanding buffers and closes the node.
func (d *Device) Close() error {
	if err := d.ReleaseBuffers(); err != nil {
		return err
	}
	return unix.Close(d.fd)
}

// Fd exposes the descriptor for event loop registration.
func (d *Device) Fd() int { return d.fd }

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// SetFormat pushes pix to the kernel and returns the adjusted result.
// A request matching the current format is a no-op.
func (d *Device) SetFormat(pix PixFormat) (PixFormat, error) {
	if pix == d.format {
		return d.format, nil
	}

	f := format{typ: BufTypeVideoOutput, pix: pix}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("%s: set format: %w", d.path, err)
	}

	d.format = f.pix
	return f.pix, nil
}

// GetFormat reads back the format currently active in the kernel.
func (d *Device) GetFormat() (PixFormat, error) {
	f := format{typ: BufTypeVideoOutput}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("%s: get format: %w", d.path, err)
	}
	return f.pix, nil
}

// RequestBuffers allocates count mmap buffers in the kernel, maps each
// into user space, and returns them as a pool.
func (d *Device) RequestBuffers(count uint32) (*video.Pool, error) {
	if len(d.bufs) > 0 {
		return nil, fmt.Errorf("%s: buffers already allocated", d.path)
	}

	rb := requestBuffers{count: count, typ: BufTypeVideoOutput, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&rb)); err != nil {
		return nil, fmt.Errorf("%s: request %d buffers: %w", d.path, count, err)
	}

	bufs := make([]*video.Buffer, 0, rb.count)
	for i := uint32(0); i < rb.count; i++ {
		qb := buffer{index: i, typ: BufTypeVideoOutput, memory: MemoryMmap}
		if err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
			d.unmap(bufs)
			return nil, fmt.Errorf("%s: query buffer %d: %w", d.path, i, err)
		}

		mem, err := unix.Mmap(d.fd, int64(qb.offset), int(qb.length),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.unmap(bufs)
			return nil, fmt.Errorf("%s: mmap buffer %d: %w", d.path, i, err)
		}

		bufs = append(bufs, &video.Buffer{Index: i, Mem: mem})
	}

	d.bufs = bufs
	return video.NewPool(bufs), nil
}

// ReleaseBuffers unmaps the pool and frees the kernel allocation.
// It is a no-op when nothing is outstanding.
func (d *Device) ReleaseBuffers() error {
	if len(d.bufs) == 0 {
		return nil
	}

	d.unmap(d.bufs)
	d.bufs = nil

	rb := requestBuffers{count: 0, typ: BufTypeVideoOutput, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&rb)); err != nil {
		return fmt.Errorf("%s: release buffers: %w", d.path, err)
	}
	return nil
}

func (d *Device) unmap(bufs []*video.Buffer) {
	for _, b := range bufs {
		if b.Mem != nil {
			_ = unix.Munmap(b.Mem)
			b.Mem = nil
		}
	}
}

// Queue hands a buffer to the kernel for transmission to the host.
func (d *Device) Queue(b *video.Buffer) error {
	if b.State() == video.BufferQueued {
		return fmt.Errorf("%s: buffer %d already queued", d.path, b.Index)
	}

	qb := buffer{
		index:     b.Index,
		typ:       BufTypeVideoOutput,
		memory:    MemoryMmap,
		bytesused: b.BytesUsed,
	}
	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&qb)); err != nil {
		return fmt.Errorf("%s: queue buffer %d: %w", d.path, b.Index, err)
	}
	return nil
}

// Dequeue retrieves a completed buffer. ErrWouldBlock means the kernel
// still owns every queued buffer.
func (d *Device) Dequeue() (*video.Buffer, error) {
	dq := buffer{typ: BufTypeVideoOutput, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&dq)); err != nil {
		if err == unix.EAGAIN {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("%s: dequeue: %w", d.path, err)
	}

	for _, b := range d.bufs {
		if b.Index == dq.index {
			b.BytesUsed = dq.bytesused
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s: kernel returned unknown buffer index %d", d.path, dq.index)
}

// StreamOn starts the transmission queue.
func (d *Device) StreamOn() error {
	typ := int32(BufTypeVideoOutput)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("%s: stream on: %w", d.path, err)
	}
	return nil
}

// StreamOff stops the queue; the kernel implicitly returns all queued
// buffers.
func (d *Device) StreamOff() error {
	typ := int32(BufTypeVideoOutput)
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("%s: stream off: %w", d.path, err)
	}
	return nil
}

// SubscribeEvent registers interest in a UVC gadget event type.
// id and flags stay zero to match the gadget driver's expectations.
func (d *Device) SubscribeEvent(kind uint32) error {
	sub := eventSubscription{typ: kind}
	if err := ioctl(d.fd, vidiocSubscribeEvent, unsafe.Pointer(&sub)); err != nil {
		return fmt.Errorf("%s: subscribe event %#x: %w", d.path, kind, err)
	}
	return nil
}

// DequeueEvent pops one pending UVC event. ErrWouldBlock is returned
// when the queue is drained.
func (d *Device) DequeueEvent() (*Event, error) {
	var ev Event
	if err := ioctl(d.fd, vidiocDQEvent, unsafe.Pointer(&ev)); err != nil {
		if err == unix.ENOENT || err == unix.EAGAIN {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("%s: dequeue event: %w", d.path, err)
	}
	return &ev, nil
}

// SendResponse answers the current class request.
func (d *Device) SendResponse(resp *RequestData) error {
	if err := ioctl(d.fd, uvciocSendResponse, unsafe.Pointer(resp)); err != nil {
		return fmt.Errorf("%s: send response: %w", d.path, err)
	}
	return nil
}
