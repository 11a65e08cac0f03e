package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherContext_LocksAfterUse(t *testing.T) {
	cc := NewCipherContext(testParams(AlgorithmAESCTR))

	require.NoError(t, cc.SetPassword("first"))
	require.NoError(t, cc.SetPassword("second"))
	assert.False(t, cc.Locked())

	c, err := cc.Cipher()
	require.NoError(t, err)
	assert.True(t, cc.Locked())

	assert.ErrorIs(t, cc.SetPassword("third"), ErrPasswordLocked)
	assert.NoError(t, cc.SetPassword("second"), "re-setting the same password is allowed")

	again, err := cc.Cipher()
	require.NoError(t, err)
	assert.Same(t, c, again)

	direct, err := NewCipher("second", testParams(AlgorithmAESCTR))
	require.NoError(t, err)
	want, _ := direct.Encrypt([]byte("payload"), 3)
	got, _ := c.Encrypt([]byte("payload"), 3)
	assert.Equal(t, want, got)
}

func TestCipherContext_InvalidParams(t *testing.T) {
	cc := NewCipherContext(Params{Algorithm: "nope", Iterations: 1})
	_, err := cc.Cipher()
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.False(t, cc.Locked())
}
