package scanner

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kahflane/naml/lang/token"
)

// number scans an integer or float literal starting at the current
// character, filling tokVal with the decoded value and raw lexeme.
// Integers support decimal, hexadecimal (0x), octal (0o) and binary (0b)
// bases with '_' digit separators; floats support a fractional part and a
// decimal exponent.
func (s *Scanner) number(tokVal *token.Value) token.Token {
	start := s.off
	tok := token.ILLEGAL

	base := 10        // number base
	prefix := rune(0) // one of 0 (decimal), 'x', 'o', or 'b'
	digsep := 0       // bit 0: digit present, bit 1: '_' present
	invalid := -1     // offset of invalid digit in literal, or < 0

	// integer part
	if s.cur != '.' {
		tok = token.INT
		if s.cur == '0' {
			s.advance()
			switch lower(s.cur) {
			case 'x':
				s.advance()
				base, prefix = 16, 'x'
			case 'o':
				s.advance()
				base, prefix = 8, 'o'
			case 'b':
				s.advance()
				base, prefix = 2, 'b'
			}
			if prefix == 0 {
				digsep |= 1 // leading 0 counts as a digit
			}
		}
		digsep |= s.digits(base, &invalid)
	}

	// fractional part
	if s.cur == '.' && prefix == 0 && isDecimal(rune(s.peek())) {
		tok = token.FLOAT
		s.advance()
		digsep |= s.digits(10, &invalid)
	}

	if digsep&1 == 0 {
		s.error(start, litname(prefix)+" has no digits")
	}

	// exponent
	if lower(s.cur) == 'e' && prefix == 0 {
		tok = token.FLOAT
		s.advance()
		s.advanceIf('+', '-')
		if s.digits(10, &invalid)&1 == 0 {
			s.error(start, "exponent has no digits")
		}
	}

	lit := string(s.src[start:s.off])
	if invalid >= 0 && tok == token.INT {
		s.errorf(invalid, "invalid digit %q in %s", s.src[invalid], litname(prefix))
	}

	*tokVal = token.Value{Raw: lit}
	switch tok {
	case token.INT:
		v, err := numberToInt(lit, base)
		if err != nil && errors.Is(err, strconv.ErrRange) {
			// syntax errors would have already generated an error, but not range
			s.error(start, "integer literal value out of range")
		}
		tokVal.Int = v
	case token.FLOAT:
		v, err := numberToFloat(lit)
		if err != nil && errors.Is(err, strconv.ErrRange) {
			s.error(start, "float literal value out of range")
		}
		tokVal.Float = v
	}
	return tok
}

// digits accepts the sequence { digit | '_' } and reports whether at least
// one digit and/or one '_' was seen. If an invalid digit for the base is
// found, its offset is stored in *invalid (once).
func (s *Scanner) digits(base int, invalid *int) (digsep int) {
	if base <= 10 {
		max := rune('0' + base)
		for isDecimal(s.cur) || s.cur == '_' {
			ds := 1
			if s.cur == '_' {
				ds = 2
			} else if s.cur >= max && *invalid < 0 {
				*invalid = s.off
			}
			digsep |= ds
			s.advance()
		}
	} else {
		for isHex(s.cur) || s.cur == '_' {
			ds := 1
			if s.cur == '_' {
				ds = 2
			}
			digsep |= ds
			s.advance()
		}
	}
	return digsep
}

func litname(prefix rune) string {
	switch prefix {
	case 'x':
		return "hexadecimal literal"
	case 'o':
		return "octal literal"
	case 'b':
		return "binary literal"
	}
	return "decimal literal"
}

func numberToInt(lit string, base int) (int64, error) {
	lit = strings.ReplaceAll(lit, "_", "")
	if base != 10 {
		lit = lit[2:] // strip the 0x/0o/0b prefix
	}
	v, err := strconv.ParseInt(lit, base, 64)
	if err != nil {
		// allow values that fit in a uint64 word, e.g. 0xffff_ffff_ffff_ffff
		if uv, uerr := strconv.ParseUint(lit, base, 64); uerr == nil {
			return int64(uv), nil
		}
	}
	return v, err
}

func numberToFloat(lit string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(lit, "_", ""), 64)
}

func lower(rn rune) rune     { return ('a' - 'A') | rn }
func isDecimal(rn rune) bool { return '0' <= rn && rn <= '9' }
func isHex(rn rune) bool     { return isDecimal(rn) || 'a' <= lower(rn) && lower(rn) <= 'f' }
