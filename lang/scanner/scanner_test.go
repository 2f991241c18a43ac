package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/lang/token"
)

// scanAll tokenizes src and returns the tokens (without EOF) and the
// number of scan errors.
func scanAll(t *testing.T, src string) ([]TokenAndValue, int) {
	t.Helper()

	var (
		s      Scanner
		tokVal token.Value
		toks   []TokenAndValue
		nerr   int
	)
	fs := token.NewFileSet()
	f := fs.AddFile("test.naml", -1, len(src))
	s.Init(f, []byte(src), func(token.Position, string) { nerr++ })
	for {
		tok := s.Scan(&tokVal)
		if tok == token.EOF {
			return toks, nerr
		}
		toks = append(toks, TokenAndValue{Token: tok, Value: tokVal})
	}
}

func kinds(toks []TokenAndValue) []token.Token {
	out := make([]token.Token, len(toks))
	for i, tv := range toks {
		out[i] = tv.Token
	}
	return out
}

func TestScanPunctuation(t *testing.T) {
	cases := map[string][]token.Token{
		"+ - * / %":      {token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT},
		"== != <= >= =>": {token.EQEQ, token.NEQ, token.LE, token.GE, token.FATARROW},
		"<< >> <<= >>=":  {token.LTLT, token.GTGT, token.LTLTEQ, token.GTGTEQ},
		".. ..= . ?":     {token.DOTDOT, token.DOTDOTEQ, token.DOT, token.QUESTION},
		":: : -> !":      {token.COLONCOLON, token.COLON, token.ARROW, token.BANG},
		"&& || & |":      {token.ANDAND, token.OROR, token.AMPERSAND, token.PIPE},
		"+= -= *= /= %=": {token.PLUSEQ, token.MINUSEQ, token.STAREQ, token.SLASHEQ, token.PERCENTEQ},
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			toks, nerr := scanAll(t, src)
			require.Zero(t, nerr)
			require.Equal(t, want, kinds(toks))
		})
	}
}

func TestScanKeywordsAndIdents(t *testing.T) {
	toks, nerr := scanAll(t, "fn main spawn awaitx _tmp")
	require.Zero(t, nerr)
	require.Equal(t, []token.Token{
		token.FN, token.IDENT, token.SPAWN, token.IDENT, token.IDENT,
	}, kinds(toks))
	require.Equal(t, "awaitx", toks[3].Value.Str)
}

func TestScanIntLiterals(t *testing.T) {
	cases := map[string]int64{
		"0":           0,
		"123":         123,
		"1_000_000":   1000000,
		"0xff":        255,
		"0xFF":        255,
		"0b1010":      10,
		"0o777":       511,
		"0xdead_beef": 0xdeadbeef,
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			toks, nerr := scanAll(t, src)
			require.Zero(t, nerr)
			require.Equal(t, token.INT, toks[0].Token)
			require.Equal(t, want, toks[0].Value.Int)
		})
	}
}

func TestScanFloatLiterals(t *testing.T) {
	cases := map[string]float64{
		"1.5":    1.5,
		"0.25":   0.25,
		"1e3":    1000,
		"2.5e-1": 0.25,
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			toks, nerr := scanAll(t, src)
			require.Zero(t, nerr)
			require.Equal(t, token.FLOAT, toks[0].Token)
			require.Equal(t, want, toks[0].Value.Float)
		})
	}
}

func TestScanStringLiterals(t *testing.T) {
	cases := map[string]string{
		`"hello"`:        "hello",
		`"a\nb"`:         "a\nb",
		`"q: \""`:        `q: "`,
		`"\x41"`:         "A",
		`"\u{1F600}"`:    "\U0001F600",
		`r"raw\nstring"`: `raw\nstring`,
	}
	for src, want := range cases {
		t.Run(src, func(t *testing.T) {
			toks, nerr := scanAll(t, src)
			require.Zero(t, nerr)
			require.Equal(t, token.STRING, toks[0].Token)
			require.Equal(t, want, toks[0].Value.Str)
		})
	}
}

func TestScanComments(t *testing.T) {
	toks, nerr := scanAll(t, "a // line comment\nb /* block */ c /* outer /* nested */ done */ d")
	require.Zero(t, nerr)

	var idents []string
	ncomments := 0
	for _, tv := range toks {
		switch tv.Token {
		case token.IDENT:
			idents = append(idents, tv.Value.Str)
		case token.COMMENT:
			ncomments++
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, idents)
	assert.Equal(t, 3, ncomments)
}

func TestScanErrors(t *testing.T) {
	cases := map[string]string{
		`"unterminated`:   "string",
		"/* never closed": "comment",
		`"\q"`:            "escape",
		"0x":              "digits",
		"@":               "illegal",
	}
	for src := range cases {
		t.Run(src, func(t *testing.T) {
			_, nerr := scanAll(t, src)
			require.NotZero(t, nerr)
		})
	}
}

func TestScannerResynchronizesAfterError(t *testing.T) {
	toks, nerr := scanAll(t, "@ x")
	require.Equal(t, 1, nerr)
	// the scanner advanced past the offending byte and kept producing
	require.Equal(t, token.ILLEGAL, toks[0].Token)
	require.Equal(t, token.IDENT, toks[1].Token)
}

func TestScanSpans(t *testing.T) {
	toks, nerr := scanAll(t, "ab cd")
	require.Zero(t, nerr)
	require.EqualValues(t, 1, toks[0].Value.Pos) // fileset base is 1
	require.EqualValues(t, 4, toks[1].Value.Pos)
}
