package video

import "encoding/binary"

// FourCCYUYV is the packed 4:2:2 YUYV pixel format code, the only
// format the built-in source produces.
const FourCCYUYV = uint32('Y') | uint32('U')<<8 | uint32('Y')<<16 | uint32('V')<<24

// YUYV pixel-pair color constants (two horizontally adjacent pixels
// packed as Y0 U Y1 V, stored little-endian).
const (
	colorWhite = 0x80eb80eb
	colorGray  = 0x807F7F7F
)

const checkerSquareSize = 32

// TestSource is a static source rendering a horizontally scrolling
// checkerboard. It only produces YUYV.
type TestSource struct {
	NopSource

	width      uint32
	height     uint32
	frameCount uint32
}

// NewTestSource creates a checkerboard source.
func NewTestSource() *TestSource {
	return &TestSource{}
}

func (s *TestSource) Kind() SourceKind { return SourceStatic }

// SetFormat accepts YUYV only.
func (s *TestSource) SetFormat(width, height, pixelFormat uint32) error {
	if pixelFormat != FourCCYUYV {
		return ErrInvalidFormat
	}
	s.width = width
	s.height = height
	return nil
}

// Fill renders one checkerboard frame into b. The pattern scrolls one
// pixel per frame and wraps after two square widths.
func (s *TestSource) Fill(b *Buffer) error {
	bpl := s.width * 2
	offset := s.frameCount % (checkerSquareSize * 2)

	for i := uint32(0); i < s.height; i++ {
		row := b.Mem[i*bpl : (i+1)*bpl]
		for j := uint32(0); j < bpl; j += 4 {
			x := j / 2
			shifted := (x + offset) % s.width

			color := uint32(colorGray)
			if ((i/checkerSquareSize)+(shifted/checkerSquareSize))%2 == 0 {
				color = colorWhite
			}
			binary.LittleEndian.PutUint32(row[j:j+4], color)
		}
	}

	b.BytesUsed = bpl * s.height
	s.frameCount++
	return nil
}
