package usb_test

import (
	"testing"

	"github.com/hexvoid/uvcd/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCtrlRequest(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want usb.CtrlRequest
	}{
		{
			name: "class get_cur to streaming interface",
			raw:  []byte{0xa1, 0x81, 0x00, 0x01, 0x01, 0x00, 0x22, 0x00},
			want: usb.CtrlRequest{
				RequestType: 0xa1,
				Request:     0x81,
				Value:       0x0100,
				Index:       0x0001,
				Length:      0x0022,
			},
		},
		{
			name: "standard get_descriptor",
			raw:  []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: usb.CtrlRequest{
				RequestType: 0x80,
				Request:     0x06,
				Value:       0x0100,
				Index:       0x0000,
				Length:      0x0012,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := usb.ParseCtrlRequest(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCtrlRequestShort(t *testing.T) {
	_, err := usb.ParseCtrlRequest([]byte{0xa1, 0x81})
	require.Error(t, err)
}

func TestCtrlRequestAccessors(t *testing.T) {
	req := usb.CtrlRequest{RequestType: 0xa1, Index: 0x0201}

	assert.Equal(t, uint8(usb.TypeClass), req.Type())
	assert.Equal(t, uint8(usb.RecipInterface), req.Recipient())
	assert.Equal(t, uint8(1), req.InterfaceNumber())

	std := usb.CtrlRequest{RequestType: 0x80}
	assert.Equal(t, uint8(usb.TypeStandard), std.Type())
	assert.Equal(t, uint8(usb.RecipDevice), std.Recipient())
}
