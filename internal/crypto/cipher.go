package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// AlgorithmAESCTR is AES-256 in counter mode keyed from the password.
	AlgorithmAESCTR = "aes-256-ctr"

	// AlgorithmChaCha20 is the ChaCha20 stream cipher keyed from the password.
	AlgorithmChaCha20 = "chacha20"

	keySize = 32

	chachaBlockSize = 64
)

// defaultSalt is used when no salt is configured. Files encrypted without an
// explicit salt must be read back without one.
var defaultSalt = []byte("media-resource-loader/v1")

var (
	// ErrOffsetOutOfRange is returned when a position cannot be addressed by
	// the selected keystream.
	ErrOffsetOutOfRange = errors.New("offset out of keystream range")

	// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
	ErrUnsupportedAlgorithm = errors.New("unsupported cipher algorithm")
)

// Params selects the algorithm and key derivation for a Cipher.
type Params struct {
	Algorithm  string
	Salt       []byte
	Iterations int
}

// DefaultParams returns AES-256-CTR with the built-in salt.
func DefaultParams() Params {
	return Params{
		Algorithm:  AlgorithmAESCTR,
		Salt:       defaultSalt,
		Iterations: 100000,
	}
}

// Cipher is a position-dependent stream cipher. Transform output for a byte
// depends only on the password, the byte and its absolute offset, so any
// sub-range of a file can be decoded without the bytes before it.
//
// A Cipher holds no mutable state and is safe for concurrent use.
type Cipher struct {
	algorithm string
	block     cipher.Block // aes only
	key       []byte
	iv        []byte // 16 bytes for aes, 12 byte nonce for chacha20
}

// NewCipher derives key material from password with PBKDF2-HMAC-SHA256.
func NewCipher(password string, params Params) (*Cipher, error) {
	if params.Algorithm == "" {
		params.Algorithm = AlgorithmAESCTR
	}
	if len(params.Salt) == 0 {
		params.Salt = defaultSalt
	}
	if params.Iterations <= 0 {
		return nil, fmt.Errorf("invalid kdf iterations: %d", params.Iterations)
	}

	switch params.Algorithm {
	case AlgorithmAESCTR:
		material := pbkdf2.Key([]byte(password), params.Salt, params.Iterations, keySize+aes.BlockSize, sha256.New)
		block, err := aes.NewCipher(material[:keySize])
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		return &Cipher{
			algorithm: params.Algorithm,
			block:     block,
			key:       material[:keySize],
			iv:        material[keySize:],
		}, nil
	case AlgorithmChaCha20:
		material := pbkdf2.Key([]byte(password), params.Salt, params.Iterations, chacha20.KeySize+chacha20.NonceSize, sha256.New)
		return &Cipher{
			algorithm: params.Algorithm,
			key:       material[:chacha20.KeySize],
			iv:        material[chacha20.KeySize:],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, params.Algorithm)
	}
}

// Algorithm returns the algorithm name.
func (c *Cipher) Algorithm() string {
	return c.algorithm
}

// Transform XORs src with the keystream starting at the absolute file offset
// and writes the result to dst. dst and src may overlap entirely. Encryption
// and decryption are the same operation.
func (c *Cipher) Transform(dst, src []byte, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOffsetOutOfRange, offset)
	}
	if len(dst) < len(src) {
		return fmt.Errorf("destination too short: %d < %d", len(dst), len(src))
	}
	if len(src) == 0 {
		return nil
	}

	switch c.algorithm {
	case AlgorithmAESCTR:
		c.transformAES(dst, src, offset)
		return nil
	case AlgorithmChaCha20:
		return c.transformChaCha(dst, src, offset)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, c.algorithm)
	}
}

// Decrypt returns the plaintext of a ciphertext chunk starting at offset.
func (c *Cipher) Decrypt(data []byte, offset int64) ([]byte, error) {
	out := make([]byte, len(data))
	if err := c.Transform(out, data, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// Encrypt returns the ciphertext of a plaintext chunk starting at offset.
func (c *Cipher) Encrypt(data []byte, offset int64) ([]byte, error) {
	return c.Decrypt(data, offset)
}

func (c *Cipher) transformAES(dst, src []byte, offset int64) {
	counter := counterBlock(c.iv, uint64(offset)/aes.BlockSize)
	stream := cipher.NewCTR(c.block, counter)

	if skip := int(offset % aes.BlockSize); skip > 0 {
		var pad [aes.BlockSize]byte
		stream.XORKeyStream(pad[:skip], pad[:skip])
	}
	stream.XORKeyStream(dst[:len(src)], src)
}

func (c *Cipher) transformChaCha(dst, src []byte, offset int64) error {
	first := uint64(offset) / chachaBlockSize
	last := (uint64(offset) + uint64(len(src)) - 1) / chachaBlockSize
	if last > math.MaxUint32 {
		return fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset+int64(len(src)))
	}

	stream, err := chacha20.NewUnauthenticatedCipher(c.key, c.iv)
	if err != nil {
		return fmt.Errorf("failed to create chacha20 cipher: %w", err)
	}
	stream.SetCounter(uint32(first))

	if skip := int(offset % chachaBlockSize); skip > 0 {
		var pad [chachaBlockSize]byte
		stream.XORKeyStream(pad[:skip], pad[:skip])
	}
	stream.XORKeyStream(dst[:len(src)], src)
	return nil
}

// counterBlock adds index to the 128-bit big-endian IV.
func counterBlock(iv []byte, index uint64) []byte {
	block := make([]byte, aes.BlockSize)
	copy(block, iv)

	lo := binary.BigEndian.Uint64(block[8:])
	hi := binary.BigEndian.Uint64(block[:8])
	sum := lo + index
	if sum < lo {
		hi++
	}
	binary.BigEndian.PutUint64(block[8:], sum)
	binary.BigEndian.PutUint64(block[:8], hi)
	return block
}
