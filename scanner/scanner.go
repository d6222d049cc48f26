package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword with its payload
	TokenKeyword                  // other keywords (obj, endobj, >>, ], etc.)
)

// Token is one lexical PDF item. Only the fields relevant to Type are set:
// Str for names and keywords, Int/Float/IsInt for numbers, Int/Gen for
// references, Bool for booleans, Bytes for strings and stream payloads.
type Token struct {
	Type  TokenType
	Str   string
	Int   int64
	Float float64
	IsInt bool
	Gen   int
	Bool  bool
	Bytes []byte
	Hex   bool
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	WindowSize      int64
}

var (
	ErrStringTooLong = errors.New("string too long")
	ErrStreamTooLong = errors.New("stream too long")
)

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
}

func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

func (s *pdfScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes byte n addressable, returning io.EOF when the input is shorter.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	n, err := s.reader.ReadAt(buf, int64(len(s.data)))
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return err
}

func (s *pdfScanner) at(i int64) (byte, bool) {
	if err := s.ensure(i); err != nil {
		return 0, false
	}
	return s.data[i], true
}

func (s *pdfScanner) peekAhead(n int64) byte {
	c, _ := s.at(s.pos + n)
	return c
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		c, ok := s.at(s.pos)
		if !ok || isDelimiter(c) {
			break
		}
		if c == '#' {
			hi, okHi := s.at(s.pos + 1)
			lo, okLo := s.at(s.pos + 2)
			if okHi && okLo && isHex(hi) && isHex(lo) {
				out.WriteByte(fromHex(hi)<<4 | fromHex(lo))
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		c, ok := s.at(s.pos)
		if !ok {
			return Token{}, errors.New("unterminated literal string")
		}
		s.pos++
		switch c {
		case '\\':
			esc, ok := s.at(s.pos)
			if !ok {
				return Token{}, errors.New("unterminated literal string")
			}
			s.pos++
			switch {
			case esc == '\r':
				if next, ok := s.at(s.pos); ok && next == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2; k++ {
					d, ok := s.at(s.pos)
					if !ok || d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, ErrStringTooLong
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	for {
		c, ok := s.at(s.pos)
		if !ok {
			return Token{}, errors.New("unterminated hex string")
		}
		s.pos++
		if c == '>' {
			break
		}
		if isHex(c) {
			hexbuf = append(hexbuf, c)
		}
	}
	// odd number of nibbles: the final one is followed by an implied 0
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, ErrStringTooLong
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, fromHex(hexbuf[i])<<4|fromHex(hexbuf[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

// scanStream consumes the payload after the 'stream' keyword. A length hint
// from the preceding dictionary is trusted when 'endstream' follows it;
// otherwise the payload runs up to the next 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	defer func() { s.nextStreamLen = -1 }()
	c, ok := s.at(s.pos)
	if !ok {
		return Token{}, errors.New("stream missing EOL before data")
	}
	if c == '\r' {
		s.pos++
		if next, ok := s.at(s.pos); ok && next == '\n' {
			s.pos++
		}
	} else if c == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if l := s.nextStreamLen; l >= 0 {
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, ErrStreamTooLong
		}
		end := dataStart + l
		if s.endstreamAt(end) {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.pos = s.skipEndstream(end)
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
	}

	needle := []byte("endstream")
	for i := dataStart; ; i++ {
		if err := s.ensure(i + int64(len(needle)) - 1); err != nil {
			return Token{}, errors.New("endstream not found")
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
			continue
		}
		end := i
		if end > dataStart && s.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
		if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
			return Token{}, ErrStreamTooLong
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = i + int64(len(needle))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
}

// endstreamAt reports whether 'endstream' follows offset, allowing an EOL.
func (s *pdfScanner) endstreamAt(offset int64) bool {
	return s.skipEndstream(offset) > offset
}

func (s *pdfScanner) skipEndstream(offset int64) int64 {
	p := offset
	for k := 0; k < 2; k++ {
		c, ok := s.at(p)
		if !ok || !isWhitespace(c) {
			break
		}
		p++
	}
	needle := []byte("endstream")
	if err := s.ensure(p + int64(len(needle)) - 1); err != nil {
		return offset
	}
	if !bytes.Equal(s.data[p:p+int64(len(needle))], needle) {
		return offset
	}
	return p + int64(len(needle))
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		c, ok := s.at(s.pos)
		if !ok || isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	tok := numberToken(num1, start)
	if !tok.IsInt || tok.Int < 0 {
		return tok, nil
	}

	// Look ahead for "<gen> R"; rewind when the pattern does not match.
	afterFirst := s.pos
	if err := s.skipWSAndComments(); err == nil {
		num2 := s.scanNumberString()
		if num2 != "" {
			if err := s.skipWSAndComments(); err == nil {
				c, _ := s.at(s.pos)
				next, ok := s.at(s.pos + 1)
				if c == 'R' && (!ok || isDelimiter(next)) {
					gen, err := strconv.Atoi(num2)
					if err == nil {
						s.pos++
						return Token{Type: TokenRef, Int: tok.Int, Gen: gen, IsInt: true, Pos: start}, nil
					}
				}
			}
		}
	}
	s.pos = afterFirst
	return tok, nil
}

func numberToken(str string, pos int64) Token {
	if i, err := strconv.ParseInt(str, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Str: str, Pos: pos}
	}
	f, _ := strconv.ParseFloat(str, 64)
	return Token{Type: TokenNumber, Float: f, Int: int64(f), Str: str, Pos: pos}
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		c, ok := s.at(s.pos)
		if !ok {
			break
		}
		if c == '+' || c == '-' {
			if buf.Len() > 0 {
				break
			}
		} else if c != '.' && (c < '0' || c > '9') {
			break
		}
		if c >= '0' && c <= '9' {
			seenDigit = true
		}
		buf.WriteByte(c)
		s.pos++
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }
func isRegular(c byte) bool    { return !isDelimiter(c) && c > 0x20 && c < 0x7f }
func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
