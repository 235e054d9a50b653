package uvc

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"math"

	"golang.org/x/sys/unix"

	"github.com/hexvoid/uvcd/internal/configfs"
	"github.com/hexvoid/uvcd/internal/events"
	"github.com/hexvoid/uvcd/internal/log"
	"github.com/hexvoid/uvcd/internal/v4l2"
	"github.com/hexvoid/uvcd/usb"
)

// respStall tells the gadget driver to stall the control transfer
// instead of answering.
const respStall = -int32(unix.EL2HLT)

// Processing-unit control selectors we may see from hosts probing the
// camera terminal, named for log output only.
var puControlNames = map[uint8]string{
	0x01: "BACKLIGHT_COMPENSATION",
	0x02: "BRIGHTNESS",
	0x03: "CONTRAST",
	0x04: "GAIN",
	0x05: "POWER_LINE_FREQUENCY",
	0x06: "HUE",
	0x07: "SATURATION",
	0x08: "SHARPNESS",
	0x09: "GAMMA",
	0x0a: "WHITE_BALANCE_TEMPERATURE",
}

func puControlName(cs uint8) string {
	if n, ok := puControlNames[cs]; ok {
		return n
	}
	return "UNKNOWN"
}

// Device is the UVC control state machine. It interprets class setup
// packets delivered through the sink's event queue, negotiates probe
// and commit blocks, and applies committed parameters to the stream.
type Device struct {
	sink   Sink
	fc     *configfs.Function
	stream *Stream
	logger *slog.Logger
	raw    log.RawLogger

	probe  StreamingControl
	commit StreamingControl

	// pending routes the next data phase: 0, VSProbeControl, or
	// VSCommitControl. Reset on every setup event.
	pending uint8
}

// NewDevice builds the state machine around a sink, a function
// configuration, and the stream orchestrator.
func NewDevice(sink Sink, fc *configfs.Function, stream *Stream, logger *slog.Logger, raw log.RawLogger) *Device {
	return &Device{
		sink:   sink,
		fc:     fc,
		stream: stream,
		logger: logger,
		raw:    raw,
	}
}

// InitEvents seeds the negotiation state, subscribes to the UVC event
// set, and registers the exception watch that drives the machine.
func (d *Device) InitEvents(loop Reactor) error {
	d.fillStreamingControl(&d.probe, 1, 1, 0)
	d.fillStreamingControl(&d.commit, 1, 1, 0)

	for _, kind := range []uint32{
		v4l2.EventSetup,
		v4l2.EventData,
		v4l2.EventStreamOn,
		v4l2.EventStreamOff,
	} {
		if err := d.sink.SubscribeEvent(kind); err != nil {
			return err
		}
	}

	return loop.Watch(d.sink.Fd(), events.Exception, d.ProcessEvents)
}

// Probe returns the current probe block.
func (d *Device) Probe() StreamingControl { return d.probe }

// Commit returns the current commit block.
func (d *Device) Commit() StreamingControl { return d.commit }

// ProcessEvents drains every pending UVC event. The reactor may
// coalesce readiness edges, so one invocation handles all queued
// events in order.
func (d *Device) ProcessEvents() {
	for {
		ev, err := d.sink.DequeueEvent()
		if err != nil {
			if !errors.Is(err, v4l2.ErrWouldBlock) {
				d.logger.Error("dequeuing uvc event", "error", err)
			}
			return
		}
		d.handleEvent(ev)
	}
}

func (d *Device) handleEvent(ev *v4l2.Event) {
	resp := v4l2.RequestData{Length: respStall}

	switch ev.Type {
	case v4l2.EventConnect, v4l2.EventDisconnect:
		return

	case v4l2.EventSetup:
		d.raw.Log(true, ev.U[:8])
		d.handleSetup(ev, &resp)

	case v4l2.EventData:
		d.handleData(ev)
		return

	case v4l2.EventStreamOn:
		if err := d.stream.Enable(true); err != nil {
			d.logger.Error("streamon rejected", "error", err)
		}
		return

	case v4l2.EventStreamOff:
		if err := d.stream.Enable(false); err != nil {
			d.logger.Error("streamoff rejected", "error", err)
		}
		return

	default:
		d.logger.Debug("ignoring unknown event", "type", ev.Type)
		return
	}

	if resp.Length > 0 {
		d.raw.Log(false, resp.Data[:resp.Length])
	}
	if err := d.sink.SendResponse(&resp); err != nil {
		d.logger.Error("sending control response", "error", err)
	}
}

// handleSetup decodes the 8-byte setup packet carried in the event
// payload. Only class requests addressed to one of our interfaces are
// answered; everything else leaves the stall sentinel in place.
func (d *Device) handleSetup(ev *v4l2.Event, resp *v4l2.RequestData) {
	d.pending = 0

	req, err := usb.ParseCtrlRequest(ev.U[:usb.CtrlRequestLen])
	if err != nil {
		d.logger.Warn("malformed setup event", "error", err)
		return
	}

	d.logger.Debug("setup request",
		"bRequestType", req.RequestType, "bRequest", RequestName(req.Request),
		"wValue", req.Value, "wIndex", req.Index, "wLength", req.Length)

	switch req.Type() {
	case usb.TypeStandard:
		// Enumeration is handled by the gadget driver; nothing to do.
	case usb.TypeClass:
		d.handleClass(req, resp)
	}
}

func (d *Device) handleClass(req usb.CtrlRequest, resp *v4l2.RequestData) {
	if req.Recipient() != usb.RecipInterface {
		return
	}

	switch req.InterfaceNumber() {
	case d.fc.ControlInterface:
		d.handleControl(req.Request, uint8(req.Value>>8), req.Length, resp)
	case d.fc.StreamingInterface:
		d.handleStreaming(req.Request, uint8(req.Value>>8), resp)
	}
}

// handleControl is the interim processing-unit responder: report both
// get and set as permitted and acknowledge with the requested length.
func (d *Device) handleControl(req, cs uint8, length uint16, resp *v4l2.RequestData) {
	d.logger.Debug("control request", "request", RequestName(req), "control", puControlName(cs))

	resp.Data[0] = 0x03
	resp.Length = int32(length)
}

func (d *Device) handleStreaming(req, cs uint8, resp *v4l2.RequestData) {
	d.logger.Debug("streaming request", "request", RequestName(req), "selector", cs)

	if cs != VSProbeControl && cs != VSCommitControl {
		return
	}

	switch req {
	case SetCur:
		// The host's block arrives in the following data phase.
		d.pending = cs
		resp.Length = StreamingControlLen

	case GetCur:
		if cs == VSProbeControl {
			d.probe.Put(resp.Data[:StreamingControlLen])
		} else {
			d.commit.Put(resp.Data[:StreamingControlLen])
		}
		resp.Length = StreamingControlLen

	case GetMin, GetDef:
		var ctrl StreamingControl
		d.fillStreamingControl(&ctrl, 1, 1, 0)
		ctrl.Put(resp.Data[:StreamingControlLen])
		resp.Length = StreamingControlLen

	case GetMax:
		var ctrl StreamingControl
		d.fillStreamingControl(&ctrl, -1, -1, math.MaxUint32)
		ctrl.Put(resp.Data[:StreamingControlLen])
		resp.Length = StreamingControlLen

	case GetRes:
		clear(resp.Data[:StreamingControlLen])
		resp.Length = StreamingControlLen

	case GetLen:
		resp.Data[0] = 0x00
		resp.Data[1] = StreamingControlLen
		resp.Length = 2

	case GetInfo:
		resp.Data[0] = 0x03
		resp.Length = 1
	}
}

// handleData consumes the data phase following a SET_CUR. The host's
// requested format, frame, and interval are clamped into the selected
// block; a commit additionally reconfigures the stream.
func (d *Device) handleData(ev *v4l2.Event) {
	length, payload := parseRequestData(ev)

	var target *StreamingControl
	switch d.pending {
	case VSProbeControl:
		target = &d.probe
	case VSCommitControl:
		target = &d.commit
	default:
		d.logger.Warn("data phase without pending control", "length", length)
		return
	}

	if n := int(length); n > 0 {
		d.raw.Log(true, payload[:min(n, len(payload))])
	}

	ctrl, err := ParseStreamingControl(payload)
	if err != nil {
		d.logger.Warn("malformed streaming control", "error", err)
		return
	}

	d.fillStreamingControl(target, int(ctrl.BFormatIndex), int(ctrl.BFrameIndex), ctrl.DwFrameInterval)

	if d.pending != VSCommitControl {
		return
	}

	format := d.fc.Formats[target.BFormatIndex-1]
	frame := format.Frames[target.BFrameIndex-1]

	pix := v4l2.PixFormat{
		Width:       frame.Width,
		Height:      frame.Height,
		PixelFormat: format.FCC,
		Field:       v4l2.FieldNone,
	}
	if format.FCC == v4l2.PixFmtMJPEG {
		// No encoder on board: trust the host-declared payload size.
		pix.SizeImage = target.DwMaxVideoFrameSize
	}

	if err := d.stream.ApplyFormat(pix); err != nil {
		d.logger.Error("applying committed format", "error", err)
		return
	}

	interval := target.DwFrameInterval
	if interval == 0 {
		interval = 1
	}
	d.stream.SetFrameRate(10000000 / interval)
}

// fillStreamingControl builds a control block from the desired format
// index, frame index, and interval. Indices clamp into the valid range
// through an unsigned comparison, so negative values select the
// maximum, which the GET_MAX path relies on. Host-supplied data-phase
// values are 8-bit and can never wrap.
func (d *Device) fillStreamingControl(ctrl *StreamingControl, iformat, iframe int, ival uint32) {
	fi := clampIndex(uint32(iformat), uint32(len(d.fc.Formats)))
	format := &d.fc.Formats[fi-1]

	fri := clampIndex(uint32(iframe), uint32(len(format.Frames)))
	frame := &format.Frames[fri-1]

	interval := frame.Intervals[len(frame.Intervals)-1]
	for _, iv := range frame.Intervals {
		if ival <= iv {
			interval = iv
			break
		}
	}

	*ctrl = StreamingControl{
		BmHint:          1,
		BFormatIndex:    uint8(fi),
		BFrameIndex:     uint8(fri),
		DwFrameInterval: interval,

		// Worst case for both YUYV and MJPEG payloads.
		DwMaxVideoFrameSize:      frame.Width * frame.Height * 2,
		DwMaxPayloadTransferSize: uint32(d.fc.MaxPacketSize),

		BmFramingInfo:    3,
		BPreferedVersion: 1,
		BMaxVersion:      1,
	}
}

func clampIndex(v, max uint32) uint32 {
	if v < 1 {
		return 1
	}
	if v > max {
		return max
	}
	return v
}

// parseRequestData splits the uvc_request_data payload of a DATA
// event into its length prefix and data bytes.
func parseRequestData(ev *v4l2.Event) (int32, []byte) {
	length := int32(binary.LittleEndian.Uint32(ev.U[0:4]))
	return length, ev.U[4:64]
}
