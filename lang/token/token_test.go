package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKw(t *testing.T) {
	require.Equal(t, FN, LookupKw("fn"))
	require.Equal(t, SPAWN, LookupKw("spawn"))
	require.Equal(t, IDENT, LookupKw("notakeyword"))
	require.Equal(t, IDENT, LookupKw("Fn")) // keywords are case-sensitive
}

func TestEveryKeywordHasAName(t *testing.T) {
	for tok := AS; tok < maxToken; tok++ {
		require.NotEmpty(t, tokenNames[tok], "token %d", tok)
		require.True(t, tok.IsKeyword())
		require.Equal(t, tok, LookupKw(tokenNames[tok]))
	}
}

func TestBinopFor(t *testing.T) {
	require.Equal(t, PLUS, PLUSEQ.BinopFor())
	require.Equal(t, GTGT, GTGTEQ.BinopFor())
	require.Equal(t, ILLEGAL, PLUS.BinopFor())
}

func TestGoStringQuotesPunctuation(t *testing.T) {
	require.Equal(t, "'+'", PLUS.GoString())
	require.Equal(t, "identifier", IDENT.GoString())
}
