package chaindb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameRoundTrip(t *testing.T) {
	for _, s := range []string{"a", "alice", "undo", "token", "a.b.c", "name12345", "abcdefghijklj"} {
		n, err := ParseName(s)
		require.NoError(t, err, s)
		require.Equal(t, s, n.String(), s)
	}
}

func TestNameZero(t *testing.T) {
	require.Equal(t, "", Name(0).String())
}

func TestParseNameRejectsInvalid(t *testing.T) {
	for _, s := range []string{"Bad_Name", "UPPER", "has space", "0digit", "waaaaaaaaaytoolong", "a!b"} {
		_, err := ParseName(s)
		require.Error(t, err, s)
	}
}

func TestParseNameRejectsNonCanonical(t *testing.T) {
	// trailing dots are trimmed by the string form, so they can't round-trip
	_, err := ParseName("abc.")
	require.Error(t, err)
}

func TestParseNameThirteenthCharRange(t *testing.T) {
	// the 13th character only has 4 bits: letters past 'j' don't fit
	_, err := ParseName("aaaaaaaaaaaaz")
	require.Error(t, err)
	n, err := ParseName("aaaaaaaaaaaaj")
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaaaaaaj", n.String())
}

func TestCodeDBName(t *testing.T) {
	require.Equal(t, "_CHAINDB_testcode", codeDBName(testSysName, testCode))
	require.Equal(t, "_CHAINDB_", codeDBName(testSysName, 0))
}
