// Package sim provides in-process stand-ins for the hardware services so the
// mesh core can be driven end to end without a radio board.
package sim

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// NetworkKey is the 256-bit key shared by every simulated node.
var NetworkKey = []byte{
	0x2B, 0x7E, 0x15, 0x16, 0x28, 0xAE, 0xD2, 0xA6, 0xAB, 0xF7, 0x15, 0x88, 0x09, 0xCF, 0x4F, 0x3C,
	0x1A, 0x2B, 0x3C, 0x4D, 0x5E, 0x6F, 0x7A, 0x8B, 0x9C, 0x0D, 0x1E, 0x2F, 0x3A, 0x4B, 0x5C, 0x6D,
}

// ECBCipher mimics the radio MCU's AES peripheral in ECB mode with no padding.
type ECBCipher struct {
	block cipher.Block
}

// NewECBCipher builds a cipher for key (16, 24 or 32 bytes).
func NewECBCipher(key []byte) (*ECBCipher, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	return &ECBCipher{block: b}, nil
}

// Encrypt encrypts src into dst block by block.
func (c *ECBCipher) Encrypt(dst, src []byte) error {
	return c.crypt(dst, src, c.block.Encrypt)
}

// Decrypt decrypts src into dst block by block.
func (c *ECBCipher) Decrypt(dst, src []byte) error {
	return c.crypt(dst, src, c.block.Decrypt)
}

func (c *ECBCipher) crypt(dst, src []byte, fn func(dst, src []byte)) error {
	bs := c.block.BlockSize()
	if len(src)%bs != 0 {
		return fmt.Errorf("cipher input %d bytes is not a multiple of %d", len(src), bs)
	}
	if len(dst) < len(src) {
		return fmt.Errorf("cipher output %d bytes, need %d", len(dst), len(src))
	}
	for i := 0; i < len(src); i += bs {
		fn(dst[i:i+bs], src[i:i+bs])
	}
	return nil
}
