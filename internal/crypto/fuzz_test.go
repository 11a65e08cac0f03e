package crypto

import (
	"bytes"
	"testing"
)

// FuzzTransformRoundTrip checks that any chunk at any offset survives an
// encrypt/decrypt round trip and matches the same bytes transformed as part
// of a larger buffer.
func FuzzTransformRoundTrip(f *testing.F) {
	f.Add([]byte("hello world"), uint32(0), uint8(0))
	f.Add([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, uint32(15), uint8(3))
	f.Add(bytes.Repeat([]byte{0xff}, 200), uint32(63), uint8(65))

	aes, err := NewCipher("fuzz-password", testParams(AlgorithmAESCTR))
	if err != nil {
		f.Fatalf("NewCipher failed: %v", err)
	}
	chacha, err := NewCipher("fuzz-password", testParams(AlgorithmChaCha20))
	if err != nil {
		f.Fatalf("NewCipher failed: %v", err)
	}

	f.Fuzz(func(t *testing.T, data []byte, offset uint32, split uint8) {
		for _, c := range []*Cipher{aes, chacha} {
			off := int64(offset)

			enc, err := c.Encrypt(data, off)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			dec, err := c.Decrypt(enc, off)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(data, dec) {
				t.Fatalf("%s: round trip mismatch", c.Algorithm())
			}

			// Decrypting the tail on its own must match the tail of the whole.
			cut := int(split)
			if cut > len(enc) {
				cut = len(enc)
			}
			tail, err := c.Decrypt(enc[cut:], off+int64(cut))
			if err != nil {
				t.Fatalf("tail decrypt failed: %v", err)
			}
			if !bytes.Equal(data[cut:], tail) {
				t.Fatalf("%s: tail at %d does not decode independently", c.Algorithm(), cut)
			}
		}
	})
}
