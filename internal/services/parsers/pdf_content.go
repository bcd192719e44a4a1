package parsers

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// TJ adjustments below this (in thousandths of text space) are treated as word gaps
const tjSpaceThreshold = -200

type tokenKind int

const (
	tokenOperator tokenKind = iota
	tokenString
	tokenNumber
	tokenName
	tokenArrayStart
	tokenArrayEnd
	tokenOther
)

type token struct {
	kind  tokenKind
	value string
	num   float64
}

// decodeContentText renders the text-showing operators (Tj, TJ, ', ") of a page
// content stream as plain text. Positioning operators that move to a new line emit newlines.
// Glyph mapping beyond the standard single-byte and UTF-16BE string encodings is not attempted.
func decodeContentText(stream []byte) string {
	lx := &contentLexer{data: stream}
	var out strings.Builder
	var operands []token
	var array []token
	inArray := false

	newline := func() {
		s := out.String()
		if len(s) > 0 && s[len(s)-1] != '\n' {
			out.WriteByte('\n')
		}
	}

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}

		switch tok.kind {
		case tokenArrayStart:
			inArray = true
			array = array[:0]
			continue
		case tokenArrayEnd:
			inArray = false
			operands = append(operands, token{kind: tokenOther, value: "array"})
			continue
		}
		if inArray {
			array = append(array, tok)
			continue
		}
		if tok.kind != tokenOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.value {
		case "Tj":
			if s, ok := lastString(operands); ok {
				out.WriteString(s)
			}
		case "TJ":
			for _, el := range array {
				switch el.kind {
				case tokenString:
					out.WriteString(el.value)
				case tokenNumber:
					if el.num < tjSpaceThreshold {
						out.WriteByte(' ')
					}
				}
			}
		case "'", "\"":
			newline()
			if s, ok := lastString(operands); ok {
				out.WriteString(s)
			}
		case "T*", "ET":
			newline()
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].num != 0 {
				newline()
			} else if out.Len() > 0 {
				out.WriteByte(' ')
			}
		case "Tm":
			newline()
		case "BI":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}

	return out.String()
}

func lastString(operands []token) (string, bool) {
	for i := len(operands) - 1; i >= 0; i-- {
		if operands[i].kind == tokenString {
			return operands[i].value, true
		}
	}
	return "", false
}

type contentLexer struct {
	data []byte
	pos  int
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (lx *contentLexer) next() (token, bool) {
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		switch {
		case isPDFWhitespace(c):
			lx.pos++
		case c == '%':
			for lx.pos < len(lx.data) && lx.data[lx.pos] != '\n' && lx.data[lx.pos] != '\r' {
				lx.pos++
			}
		case c == '(':
			lx.pos++
			return token{kind: tokenString, value: decodePDFString(lx.literal())}, true
		case c == '<':
			if lx.pos+1 < len(lx.data) && lx.data[lx.pos+1] == '<' {
				lx.pos += 2
				return token{kind: tokenOther, value: "<<"}, true
			}
			lx.pos++
			return token{kind: tokenString, value: decodePDFString(lx.hex())}, true
		case c == '>':
			lx.pos++
			if lx.pos < len(lx.data) && lx.data[lx.pos] == '>' {
				lx.pos++
			}
			return token{kind: tokenOther, value: ">>"}, true
		case c == '[':
			lx.pos++
			return token{kind: tokenArrayStart}, true
		case c == ']':
			lx.pos++
			return token{kind: tokenArrayEnd}, true
		case c == '/':
			lx.pos++
			return token{kind: tokenName, value: lx.word()}, true
		case c == '{' || c == '}' || c == ')':
			lx.pos++
		default:
			w := lx.word()
			if w == "" {
				lx.pos++
				continue
			}
			if f, err := strconv.ParseFloat(w, 64); err == nil {
				return token{kind: tokenNumber, value: w, num: f}, true
			}
			return token{kind: tokenOperator, value: w}, true
		}
	}
	return token{}, false
}

func (lx *contentLexer) word() string {
	start := lx.pos
	for lx.pos < len(lx.data) && !isPDFWhitespace(lx.data[lx.pos]) && !isPDFDelimiter(lx.data[lx.pos]) {
		lx.pos++
	}
	return string(lx.data[start:lx.pos])
}

// literal reads a (...) string body; the opening paren is already consumed
func (lx *contentLexer) literal() []byte {
	var buf bytes.Buffer
	depth := 1
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		switch c {
		case '\\':
			if lx.pos >= len(lx.data) {
				return buf.Bytes()
			}
			e := lx.data[lx.pos]
			lx.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if lx.pos < len(lx.data) && lx.data[lx.pos] == '\n' {
					lx.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && lx.pos < len(lx.data); i++ {
						d := lx.data[lx.pos]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						lx.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return buf.Bytes()
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// hex reads a <...> string body; the opening bracket is already consumed
func (lx *contentLexer) hex() []byte {
	var digits []byte
	for lx.pos < len(lx.data) {
		c := lx.data[lx.pos]
		lx.pos++
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, _ := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		out[i] = byte(v)
	}
	return out
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// skipInlineImage advances past the binary data of an inline image (BI ... ID <data> EI)
func (lx *contentLexer) skipInlineImage() {
	if idx := bytes.Index(lx.data[lx.pos:], []byte("ID")); idx >= 0 {
		lx.pos += idx + 2
	}
	for lx.pos < len(lx.data) {
		idx := bytes.Index(lx.data[lx.pos:], []byte("EI"))
		if idx < 0 {
			lx.pos = len(lx.data)
			return
		}
		end := lx.pos + idx
		lx.pos = end + 2
		before := end == 0 || isPDFWhitespace(lx.data[end-1])
		after := lx.pos >= len(lx.data) || isPDFWhitespace(lx.data[lx.pos])
		if before && after {
			return
		}
	}
}

var (
	utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	winAnsi      = charmap.Windows1252
)

// decodePDFString maps raw string bytes to UTF-8: UTF-16BE when the BOM is present,
// otherwise the WinAnsi single-byte encoding used by the standard fonts.
func decodePDFString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		if s, err := utf16Decoder.NewDecoder().Bytes(raw); err == nil {
			return string(s)
		}
	}
	s, err := winAnsi.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(s)
}
