package keytype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKnown(t *testing.T) {
	kt, err := Parse("SHA-1")
	require.NoError(t, err)
	assert.Equal(t, 20, kt.ByteLength())

	kt, err = Parse("NTLM")
	require.NoError(t, err)
	assert.Equal(t, 16, kt.ByteLength())
}

func TestParseOtherGraphic(t *testing.T) {
	kt, err := Parse("MD5")
	require.NoError(t, err)
	assert.Equal(t, "MD5", kt.Name())
}

func TestParseRejectsNewlineAndNonGraphic(t *testing.T) {
	_, err := Parse("bad\nname")
	require.Error(t, err)

	_, err = Parse("")
	require.Error(t, err)

	_, err = Parse("tab\tname")
	require.Error(t, err)
}

func TestOtherValidates(t *testing.T) {
	_, err := Other("has space", 10)
	require.Error(t, err)

	kt, err := Other("CUSTOM", 32)
	require.NoError(t, err)
	assert.Equal(t, 32, kt.ByteLength())
}
