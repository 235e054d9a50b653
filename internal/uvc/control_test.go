package uvc_test

import (
	"testing"

	"github.com/hexvoid/uvcd/internal/uvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingControlWireLayout(t *testing.T) {
	ctrl := uvc.StreamingControl{
		BmHint:                   1,
		BFormatIndex:             2,
		BFrameIndex:              3,
		DwFrameInterval:          333333,
		WDelay:                   0x1234,
		DwMaxVideoFrameSize:      1843200,
		DwMaxPayloadTransferSize: 1024,
		BmFramingInfo:            3,
		BPreferedVersion:         1,
		BMaxVersion:              1,
	}

	b := ctrl.Bytes()
	require.Len(t, b, 34)

	assert.Equal(t, []byte{0x01, 0x00}, b[0:2], "bmHint")
	assert.Equal(t, byte(2), b[2], "bFormatIndex")
	assert.Equal(t, byte(3), b[3], "bFrameIndex")
	// 333333 = 0x00051615
	assert.Equal(t, []byte{0x15, 0x16, 0x05, 0x00}, b[4:8], "dwFrameInterval")
	assert.Equal(t, []byte{0x34, 0x12}, b[16:18], "wDelay")
	// 1843200 = 0x001c2000
	assert.Equal(t, []byte{0x00, 0x20, 0x1c, 0x00}, b[18:22], "dwMaxVideoFrameSize")
	assert.Equal(t, []byte{0x00, 0x04, 0x00, 0x00}, b[22:26], "dwMaxPayloadTransferSize")
	assert.Equal(t, byte(3), b[30], "bmFramingInfo")
	assert.Equal(t, byte(1), b[31], "bPreferedVersion")
	assert.Equal(t, byte(0), b[32], "bMinVersion")
	assert.Equal(t, byte(1), b[33], "bMaxVersion")
}

func TestStreamingControlRoundTrip(t *testing.T) {
	ctrl := uvc.StreamingControl{
		BmHint:                   1,
		BFormatIndex:             1,
		BFrameIndex:              2,
		DwFrameInterval:          500000,
		WKeyFrameRate:            30,
		WPFrameRate:              5,
		WCompQuality:             61,
		WCompWindowSize:          2,
		WDelay:                   40,
		DwMaxVideoFrameSize:      460800,
		DwMaxPayloadTransferSize: 3072,
		DwClockFrequency:         48000000,
		BmFramingInfo:            3,
		BPreferedVersion:         1,
		BMinVersion:              1,
		BMaxVersion:              1,
	}

	parsed, err := uvc.ParseStreamingControl(ctrl.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ctrl, parsed)
}

func TestParseStreamingControlShort(t *testing.T) {
	_, err := uvc.ParseStreamingControl(make([]byte, 20))
	require.Error(t, err)
}

func TestRequestName(t *testing.T) {
	assert.Equal(t, "SET_CUR", uvc.RequestName(uvc.SetCur))
	assert.Equal(t, "GET_MAX", uvc.RequestName(uvc.GetMax))
	assert.Equal(t, "UNKNOWN(0x99)", uvc.RequestName(0x99))
}
