//go:build linux

// Package events implements a level-triggered epoll event loop.
//
// A single goroutine runs the loop and dispatches callbacks
// sequentially. Stop may be called from any goroutine or from inside a
// callback; a self-pipe wakes the waiter. Several interests may be
// registered for the same file descriptor with independent callbacks
// (the UVC runtime watches the video node for exceptions and, while
// streaming, for buffer readiness).
package events

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// EventMask selects the readiness conditions a watch fires on.
type EventMask uint32

const (
	Read EventMask = 1 << iota
	Write
	Exception
)

func (m EventMask) epollEvents() uint32 {
	var ev uint32
	if m&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&Exception != 0 {
		ev |= unix.EPOLLPRI
	}
	return ev
}

type watch struct {
	mask EventMask
	cb   func()
}

// Loop multiplexes file descriptors and dispatches readiness callbacks.
type Loop struct {
	epfd    int
	wakeR   int
	wakeW   int
	watches map[int][]watch
	stopped atomic.Bool
}

// New creates an event loop with its wakeup pipe already registered.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("pipe2: %w", err)
	}

	l := &Loop{
		epfd:    epfd,
		wakeR:   p[0],
		wakeW:   p[1],
		watches: make(map[int][]watch),
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(l.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, l.wakeR, &ev); err != nil {
		l.Close()
		return nil, fmt.Errorf("epoll_ctl wakeup pipe: %w", err)
	}

	return l, nil
}

// Close releases the loop's descriptors. The loop must not be running.
func (l *Loop) Close() {
	_ = unix.Close(l.epfd)
	_ = unix.Close(l.wakeR)
	_ = unix.Close(l.wakeW)
}

// Watch registers cb to fire whenever fd is ready for any condition in
// mask. Multiple watches on the same fd are merged into one epoll
// registration. Calling Watch from inside a callback is safe.
func (l *Loop) Watch(fd int, mask EventMask, cb func()) error {
	existing := l.watches[fd]
	op := unix.EPOLL_CTL_MOD
	if len(existing) == 0 {
		op = unix.EPOLL_CTL_ADD
	}

	combined := mask
	for _, w := range existing {
		combined |= w.mask
	}

	ev := unix.EpollEvent{Events: combined.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl fd %d: %w", fd, err)
	}

	l.watches[fd] = append(existing, watch{mask: mask, cb: cb})
	return nil
}

// Unwatch removes the interests in mask from fd. When no interest
// remains, the fd is deleted from the epoll set. Calling Unwatch from
// inside the fd's own callback is safe.
func (l *Loop) Unwatch(fd int, mask EventMask) error {
	existing := l.watches[fd]
	if len(existing) == 0 {
		return nil
	}

	var kept []watch
	var combined EventMask
	for _, w := range existing {
		w.mask &^= mask
		if w.mask == 0 {
			continue
		}
		combined |= w.mask
		kept = append(kept, w)
	}

	if len(kept) == 0 {
		delete(l.watches, fd)
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
		}
		return nil
	}

	l.watches[fd] = kept
	ev := unix.EpollEvent{Events: combined.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Run blocks dispatching events until Stop is called. A wait error
// other than EINTR aborts the loop and is returned.
func (l *Loop) Run() error {
	var evs [8]unix.EpollEvent

	for !l.stopped.Load() {
		n, err := unix.EpollWait(l.epfd, evs[:], -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			if l.stopped.Load() {
				break
			}
			fd := int(evs[i].Fd)
			if fd == l.wakeR {
				l.drainWakeup()
				continue
			}
			l.dispatch(fd, evs[i].Events)
		}
	}

	return nil
}

// Stop requests loop termination. Safe from callbacks and from other
// goroutines, including signal handler goroutines.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	_, _ = unix.Write(l.wakeW, []byte{0})
}

func (l *Loop) dispatch(fd int, events uint32) {
	var ready EventMask
	if events&unix.EPOLLIN != 0 {
		ready |= Read
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= Write
	}
	if events&unix.EPOLLPRI != 0 {
		ready |= Exception
	}
	// EPOLLERR/EPOLLHUP are reported unconditionally; surface them to
	// every watcher so a callback can observe the failed dequeue.
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ready = Read | Write | Exception
	}

	// Re-read the watch list per callback so that a callback
	// unregistering its own fd does not fire stale entries.
	for i := 0; ; i++ {
		current := l.watches[fd]
		if i >= len(current) {
			return
		}
		if current[i].mask&ready != 0 {
			current[i].cb()
		}
		if l.stopped.Load() {
			return
		}
	}
}

func (l *Loop) drainWakeup() {
	var buf [16]byte
	for {
		if _, err := unix.Read(l.wakeR, buf[:]); err != nil {
			return
		}
	}
}
