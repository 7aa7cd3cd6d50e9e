package protocol

import "encoding/binary"

// Opcodes for the fixed-length binary protocol. All multi-byte integers on
// the wire are little-endian.
const (
	OpSize           byte = 0x73
	OpHelp           byte = 0x68
	OpGetPixel       byte = 0x20
	OpSetPixelRGB    byte = 0x80
	OpBlendPixelRGBA byte = 0x81
	OpSetPixelGray   byte = 0x82
)

// payloadSize returns the number of bytes following the opcode byte, and
// whether the opcode is recognized at all.
func payloadSize(op byte) (int, bool) {
	switch op {
	case OpSize:
		return 1, true // u8 canvas
	case OpHelp:
		return 0, true
	case OpGetPixel:
		return 5, true // u8 canvas, u16 x, u16 y
	case OpSetPixelRGB:
		return 8, true // u8 canvas, u16 x, u16 y, u8 r,g,b
	case OpBlendPixelRGBA:
		return 9, true // u8 canvas, u16 x, u16 y, u8 r,g,b,a
	case OpSetPixelGray:
		return 6, true // u8 canvas, u16 x, u16 y, u8 w
	default:
		return 0, false
	}
}

// BinaryParser implements Parser for the fixed-length opcode-keyed records
// grammar. Unlike the text parser it cannot recover from a bad opcode:
// there is no frame delimiter to resynchronize on, so once it fails it
// fails for good.
type BinaryParser struct {
	buf    []byte
	failed bool
	err    error
}

// NewBinary returns a fresh binary-mode parser with an empty buffer.
func NewBinary() *BinaryParser { return &BinaryParser{} }

func (p *BinaryParser) Feed(b []byte) { p.buf = append(p.buf, b...) }

func (p *BinaryParser) Remaining() []byte { return p.buf }

func (p *BinaryParser) Next() (Command, error, bool) {
	if p.failed {
		return Command{}, p.err, true
	}
	if len(p.buf) == 0 {
		return Command{}, nil, false
	}
	op := p.buf[0]
	size, known := payloadSize(op)
	if !known {
		p.failed = true
		p.err = newParseError("unknown opcode 0x%02x", op)
		return Command{}, p.err, true
	}
	if len(p.buf) < 1+size {
		return Command{}, nil, false
	}
	payload := p.buf[1 : 1+size]
	cmd := decode(op, payload)
	p.buf = p.buf[1+size:]
	return cmd, nil, true
}

func decode(op byte, payload []byte) Command {
	switch op {
	case OpSize:
		return Command{Kind: Size, Canvas: payload[0]}
	case OpHelp:
		return Command{Kind: Help}
	case OpGetPixel:
		return Command{
			Kind:   GetPixel,
			Canvas: payload[0],
			X:      binary.LittleEndian.Uint16(payload[1:3]),
			Y:      binary.LittleEndian.Uint16(payload[3:5]),
		}
	case OpSetPixelRGB:
		return Command{
			Kind:   SetPixelRGB,
			Canvas: payload[0],
			X:      binary.LittleEndian.Uint16(payload[1:3]),
			Y:      binary.LittleEndian.Uint16(payload[3:5]),
			R:      payload[5],
			G:      payload[6],
			B:      payload[7],
		}
	case OpBlendPixelRGBA:
		return Command{
			Kind:   BlendPixelRGBA,
			Canvas: payload[0],
			X:      binary.LittleEndian.Uint16(payload[1:3]),
			Y:      binary.LittleEndian.Uint16(payload[3:5]),
			R:      payload[5],
			G:      payload[6],
			B:      payload[7],
			A:      payload[8],
		}
	case OpSetPixelGray:
		return Command{
			Kind:   SetPixelGray,
			Canvas: payload[0],
			X:      binary.LittleEndian.Uint16(payload[1:3]),
			Y:      binary.LittleEndian.Uint16(payload[3:5]),
			R:      payload[5],
		}
	default:
		return Command{}
	}
}

// EncodeBinary renders cmd into the exact wire byte layout. It exists
// for round-trip testing; SwitchCanvas and SwitchProtocol have no binary
// opcode and encode to nil.
func EncodeBinary(cmd Command) []byte {
	switch cmd.Kind {
	case Size:
		return []byte{OpSize, cmd.Canvas}
	case Help:
		return []byte{OpHelp}
	case GetPixel:
		buf := make([]byte, 6)
		buf[0] = OpGetPixel
		buf[1] = cmd.Canvas
		binary.LittleEndian.PutUint16(buf[2:4], cmd.X)
		binary.LittleEndian.PutUint16(buf[4:6], cmd.Y)
		return buf
	case SetPixelRGB:
		buf := make([]byte, 9)
		buf[0] = OpSetPixelRGB
		buf[1] = cmd.Canvas
		binary.LittleEndian.PutUint16(buf[2:4], cmd.X)
		binary.LittleEndian.PutUint16(buf[4:6], cmd.Y)
		buf[6], buf[7], buf[8] = cmd.R, cmd.G, cmd.B
		return buf
	case BlendPixelRGBA:
		buf := make([]byte, 10)
		buf[0] = OpBlendPixelRGBA
		buf[1] = cmd.Canvas
		binary.LittleEndian.PutUint16(buf[2:4], cmd.X)
		binary.LittleEndian.PutUint16(buf[4:6], cmd.Y)
		buf[6], buf[7], buf[8], buf[9] = cmd.R, cmd.G, cmd.B, cmd.A
		return buf
	case SetPixelGray:
		buf := make([]byte, 7)
		buf[0] = OpSetPixelGray
		buf[1] = cmd.Canvas
		binary.LittleEndian.PutUint16(buf[2:4], cmd.X)
		binary.LittleEndian.PutUint16(buf[4:6], cmd.Y)
		buf[6] = cmd.R
		return buf
	default:
		return nil
	}
}
