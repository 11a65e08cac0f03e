package crypto

import (
	"errors"
	"sync"
)

// ErrPasswordLocked is returned when the password is changed after the cipher
// has been used to serve data.
var ErrPasswordLocked = errors.New("password cannot change after first use")

// CipherContext holds the password for a loader. The password may be set any
// number of times until Cipher is first called; after that it is immutable.
type CipherContext struct {
	mu       sync.Mutex
	params   Params
	password string
	cipher   *Cipher
}

// NewCipherContext creates a context with the given parameters and an empty
// password.
func NewCipherContext(params Params) *CipherContext {
	return &CipherContext{params: params}
}

// SetPassword replaces the password. It fails with ErrPasswordLocked once the
// cipher has been derived.
func (c *CipherContext) SetPassword(password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cipher != nil {
		if password == c.password {
			return nil
		}
		return ErrPasswordLocked
	}
	c.password = password
	return nil
}

// Locked reports whether the password is fixed.
func (c *CipherContext) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cipher != nil
}

// Cipher derives the cipher on first use and locks the password.
func (c *CipherContext) Cipher() (*Cipher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cipher != nil {
		return c.cipher, nil
	}
	ciph, err := NewCipher(c.password, c.params)
	if err != nil {
		return nil, err
	}
	c.cipher = ciph
	return ciph, nil
}
