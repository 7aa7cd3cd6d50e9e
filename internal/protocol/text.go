package protocol

import (
	"bytes"
	"fmt"
	"strconv"
)

// TextParser implements Parser for the line-oriented ASCII grammar: fields
// separated by a single space, lines terminated by '\n' with an optional
// preceding '\r'. Empty lines are ignored; anything else malformed fails
// just that line with a ParseError and resumes at the next newline.
type TextParser struct {
	buf []byte
}

// NewText returns a fresh text-mode parser with an empty buffer.
func NewText() *TextParser { return &TextParser{} }

func (p *TextParser) Feed(b []byte) { p.buf = append(p.buf, b...) }

func (p *TextParser) Remaining() []byte { return p.buf }

func (p *TextParser) Next() (Command, error, bool) {
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return Command{}, nil, false
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		cmd, err := parseLine(line)
		return cmd, err, true
	}
}

func parseLine(line []byte) (Command, error) {
	// Split on single spaces into a fixed-size backing array so that a
	// well-formed line needs no heap allocation for its fields.
	var fieldBuf [4][]byte
	fields := fieldBuf[:0]
	for {
		i := bytes.IndexByte(line, ' ')
		if i < 0 {
			fields = append(fields, line)
			break
		}
		fields = append(fields, line[:i])
		line = line[i+1:]
	}

	switch string(fields[0]) {
	case "SIZE":
		switch len(fields) {
		case 1:
			return Command{Kind: Size, Canvas: 0}, nil
		case 2:
			id, err := parseUint8(fields[1])
			if err != nil {
				return Command{}, newParseError("SIZE: bad canvas id: %v", err)
			}
			return Command{Kind: Size, Canvas: id}, nil
		default:
			return Command{}, newParseError("SIZE: wrong number of fields")
		}

	case "HELP":
		if len(fields) != 1 {
			return Command{}, newParseError("HELP: takes no arguments")
		}
		return Command{Kind: Help}, nil

	case "PX":
		return parsePX(fields)

	case "CANVAS":
		if len(fields) != 2 {
			return Command{}, newParseError("CANVAS: wrong number of fields")
		}
		id, err := parseUint8(fields[1])
		if err != nil {
			return Command{}, newParseError("CANVAS: bad id: %v", err)
		}
		return Command{Kind: SwitchCanvas, Canvas: id}, nil

	case "PROTOCOL":
		if len(fields) != 2 {
			return Command{}, newParseError("PROTOCOL: wrong number of fields")
		}
		switch string(fields[1]) {
		case "text":
			return Command{Kind: SwitchProtocol, SwitchTo: Text}, nil
		case "binary":
			return Command{Kind: SwitchProtocol, SwitchTo: Binary}, nil
		default:
			return Command{}, newParseError("PROTOCOL: unknown kind %q", fields[1])
		}

	default:
		return Command{}, newParseError("unknown keyword %q", fields[0])
	}
}

func parsePX(fields [][]byte) (Command, error) {
	switch len(fields) {
	case 3:
		x, err := parseUint16(fields[1])
		if err != nil {
			return Command{}, newParseError("PX: bad x: %v", err)
		}
		y, err := parseUint16(fields[2])
		if err != nil {
			return Command{}, newParseError("PX: bad y: %v", err)
		}
		return Command{Kind: GetPixel, X: x, Y: y}, nil

	case 4:
		x, err := parseUint16(fields[1])
		if err != nil {
			return Command{}, newParseError("PX: bad x: %v", err)
		}
		y, err := parseUint16(fields[2])
		if err != nil {
			return Command{}, newParseError("PX: bad y: %v", err)
		}
		color := fields[3]
		switch len(color) {
		case 6:
			r, g, b, err := parseHexRGB(color)
			if err != nil {
				return Command{}, newParseError("PX: bad color: %v", err)
			}
			return Command{Kind: SetPixelRGB, X: x, Y: y, R: r, G: g, B: b}, nil
		case 8:
			r, g, b, err := parseHexRGB(color[:6])
			if err != nil {
				return Command{}, newParseError("PX: bad color: %v", err)
			}
			a, err := parseHexByte(color[6:8])
			if err != nil {
				return Command{}, newParseError("PX: bad alpha: %v", err)
			}
			return Command{Kind: BlendPixelRGBA, X: x, Y: y, R: r, G: g, B: b, A: a}, nil
		case 2:
			v, err := parseHexByte(color)
			if err != nil {
				return Command{}, newParseError("PX: bad gray value: %v", err)
			}
			return Command{Kind: SetPixelGray, X: x, Y: y, R: v}, nil
		default:
			return Command{}, newParseError("PX: color must be 2, 6 or 8 hex digits, got %d", len(color))
		}

	default:
		return Command{}, newParseError("PX: wrong number of fields")
	}
}

func parseUint16(b []byte) (uint16, error) {
	v, err := strconv.ParseUint(string(b), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseUint8(b []byte) (uint8, error) {
	v, err := strconv.ParseUint(string(b), 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func parseHexByte(b []byte) (uint8, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("want 2 hex digits, got %d", len(b))
	}
	v, err := strconv.ParseUint(string(b), 16, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

func parseHexRGB(b []byte) (r, g, b8 uint8, err error) {
	r, err = parseHexByte(b[0:2])
	if err != nil {
		return 0, 0, 0, err
	}
	g, err = parseHexByte(b[2:4])
	if err != nil {
		return 0, 0, 0, err
	}
	b8, err = parseHexByte(b[4:6])
	if err != nil {
		return 0, 0, 0, err
	}
	return r, g, b8, nil
}

// EncodeText renders cmd back into the wire line it would have come from.
// It exists for round-trip testing of the grammar; the connection
// handler formats replies itself since a reply carries data (e.g. a pixel
// read off the canvas) that the originating Command does not.
func EncodeText(cmd Command) []byte {
	switch cmd.Kind {
	case Size:
		if cmd.Canvas == 0 {
			return []byte("SIZE\n")
		}
		return []byte(fmt.Sprintf("SIZE %d\n", cmd.Canvas))
	case Help:
		return []byte("HELP\n")
	case GetPixel:
		return []byte(fmt.Sprintf("PX %d %d\n", cmd.X, cmd.Y))
	case SetPixelRGB:
		return []byte(fmt.Sprintf("PX %d %d %02x%02x%02x\n", cmd.X, cmd.Y, cmd.R, cmd.G, cmd.B))
	case BlendPixelRGBA:
		return []byte(fmt.Sprintf("PX %d %d %02x%02x%02x%02x\n", cmd.X, cmd.Y, cmd.R, cmd.G, cmd.B, cmd.A))
	case SetPixelGray:
		return []byte(fmt.Sprintf("PX %d %d %02x\n", cmd.X, cmd.Y, cmd.R))
	case SwitchCanvas:
		return []byte(fmt.Sprintf("CANVAS %d\n", cmd.Canvas))
	case SwitchProtocol:
		return []byte(fmt.Sprintf("PROTOCOL %s\n", cmd.SwitchTo))
	default:
		return nil
	}
}
