package pdftext

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// wordGap is the TJ displacement, in thousandths of a text space unit,
// beyond which a space is assumed between glyph runs.
const wordGap = -200

type operand struct {
	str   string
	num   float64
	isNum bool
	isStr bool
}

// DecodeContent returns the text drawn by the show-text operators (Tj, TJ,
// ' and ") of a page content stream. Line moves become newlines. Glyphs
// are read as single-byte codes; strings starting with a UTF-16BE byte
// order mark are decoded as UTF-16.
func DecodeContent(stream []byte) string {
	s := &scanner{src: stream}
	var out strings.Builder
	var ops []operand

	newline := func() {
		str := out.String()
		if len(str) > 0 && !strings.HasSuffix(str, "\n") {
			out.WriteByte('\n')
		}
	}
	show := func(from []operand) {
		for _, op := range from {
			switch {
			case op.isStr:
				out.WriteString(op.str)
			case op.isNum && op.num < wordGap:
				if str := out.String(); len(str) > 0 && !strings.HasSuffix(str, " ") {
					out.WriteByte(' ')
				}
			}
		}
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		switch tok.kind {
		case tokString:
			ops = append(ops, operand{str: tok.text, isStr: true})
		case tokNumber:
			n, _ := strconv.ParseFloat(tok.text, 64)
			ops = append(ops, operand{num: n, isNum: true})
		case tokArrayStart, tokArrayEnd:
		case tokOperator:
			switch tok.text {
			case "Tj", "TJ":
				show(ops)
			case "'", `"`:
				newline()
				show(ops)
			case "T*", "TD", "ET":
				newline()
			case "Td":
				if len(ops) >= 2 && ops[len(ops)-1].isNum && ops[len(ops)-1].num != 0 {
					newline()
				} else if str := out.String(); len(str) > 0 && !strings.HasSuffix(str, "\n") && !strings.HasSuffix(str, " ") {
					out.WriteByte(' ')
				}
			case "ID":
				s.skipInlineImage()
			}
			ops = ops[:0]
		default:
			ops = ops[:0]
		}
	}

	lines := strings.Split(out.String(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

type tokKind int

const (
	tokOperator tokKind = iota
	tokNumber
	tokString
	tokArrayStart
	tokArrayEnd
	tokOther
)

type token struct {
	kind tokKind
	text string
}

type scanner struct {
	src []byte
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (s *scanner) next() (token, bool) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' && s.src[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.pos++
			return token{kind: tokString, text: decodeBytes(s.literal())}, true
		case c == '<':
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == '<' {
				s.pos += 2
				return token{kind: tokOther, text: "<<"}, true
			}
			s.pos++
			return token{kind: tokString, text: decodeBytes(s.hex())}, true
		case c == '>':
			s.pos++
			if s.pos < len(s.src) && s.src[s.pos] == '>' {
				s.pos++
			}
			return token{kind: tokOther, text: ">>"}, true
		case c == '[':
			s.pos++
			return token{kind: tokArrayStart}, true
		case c == ']':
			s.pos++
			return token{kind: tokArrayEnd}, true
		case c == '/':
			start := s.pos
			s.pos++
			for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && !isDelim(s.src[s.pos]) {
				s.pos++
			}
			return token{kind: tokOther, text: string(s.src[start:s.pos])}, true
		case c == '{' || c == '}':
			s.pos++
			return token{kind: tokOther, text: string(c)}, true
		default:
			start := s.pos
			for s.pos < len(s.src) && !isSpace(s.src[s.pos]) && !isDelim(s.src[s.pos]) {
				s.pos++
			}
			word := string(s.src[start:s.pos])
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				return token{kind: tokNumber, text: word}, true
			}
			return token{kind: tokOperator, text: word}, true
		}
	}
	return token{}, false
}

// literal reads a parenthesised string; the opening paren is consumed.
func (s *scanner) literal() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			if s.pos >= len(s.src) {
				return out
			}
			e := s.src[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.src) && s.src[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			case '0', '1', '2', '3', '4', '5', '6', '7':
				v := int(e - '0')
				for i := 0; i < 2 && s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '7'; i++ {
					v = v*8 + int(s.src[s.pos]-'0')
					s.pos++
				}
				out = append(out, byte(v))
			default:
				out = append(out, e)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// hex reads a hex string; the opening angle bracket is consumed.
func (s *scanner) hex() []byte {
	var digits []byte
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if _, ok := hexVal(c); ok {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		hi, _ := hexVal(digits[i])
		lo, _ := hexVal(digits[i+1])
		out = append(out, hi<<4|lo)
	}
	return out
}

func (s *scanner) skipInlineImage() {
	for s.pos+2 < len(s.src) {
		if isSpace(s.src[s.pos]) && s.src[s.pos+1] == 'E' && s.src[s.pos+2] == 'I' &&
			(s.pos+3 == len(s.src) || isSpace(s.src[s.pos+3])) {
			s.pos += 3
			return
		}
		s.pos++
	}
	s.pos = len(s.src)
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func decodeBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		b = b[2:]
		u := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
