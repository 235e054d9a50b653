package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hexvoid/uvcd/internal/configfs"
	"github.com/hexvoid/uvcd/internal/events"
	"github.com/hexvoid/uvcd/internal/log"
	"github.com/hexvoid/uvcd/internal/uvc"
	"github.com/hexvoid/uvcd/internal/v4l2"
	"github.com/hexvoid/uvcd/internal/video"
)

// Stream runs the gadget daemon for one UVC function.
type Stream struct {
	Device  string `help:"Video device node (overrides configfs discovery)" env:"UVCD_DEVICE"`
	Buffers uint32 `help:"Number of frame buffers in the pool" default:"4" env:"UVCD_BUFFERS"`

	Function string `arg:"" name:"uvc-device" help:"UVC function specifier, e.g. 'uvc.0' or 'g1/functions/uvc.0'"`
}

// Run is called by kong when the stream command is executed. It wires
// configuration, source, sink, orchestrator, and state machine to the
// event loop and blocks until interrupted.
func (s *Stream) Run(logger *slog.Logger, raw log.RawLogger) error {
	fc, err := configfs.Parse(s.Function)
	if err != nil {
		return fmt.Errorf("reading gadget configuration: %w", err)
	}

	loop, err := events.New()
	if err != nil {
		return err
	}
	defer loop.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		logger.Info("interrupt received, shutting down")
		loop.Stop()
	}()

	src := video.NewTestSource()
	defer src.Destroy()

	devNode := s.Device
	if devNode == "" {
		devNode = fc.VideoDevice
	}
	if devNode == "" {
		return fmt.Errorf("function %s is not bound to a video device; bind the gadget or pass --device", fc.Name)
	}

	sink, err := v4l2.Open(devNode)
	if err != nil {
		return err
	}

	stream := uvc.NewStream(sink, src, loop, logger, s.Buffers)
	dev := uvc.NewDevice(sink, fc, stream, logger, raw)
	if err := dev.InitEvents(loop); err != nil {
		_ = sink.Close()
		return fmt.Errorf("initializing uvc events: %w", err)
	}

	logger.Info("uvc gadget running",
		"function", fc.Name, "device", devNode,
		"formats", fc.NumFormats(), "maxpacket", fc.MaxPacketSize)

	runErr := loop.Run()

	stream.Shutdown()
	if err := sink.Close(); err != nil {
		logger.Warn("closing video device", "error", err)
	}

	return runErr
}
