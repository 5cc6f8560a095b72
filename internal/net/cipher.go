package net

// Cipher is a per-direction XOR rolling cipher seeded during the handshake.
// Each side keeps independent encode/decode key state; the key rolls forward
// after every packet so identical payloads never produce identical frames.
type Cipher struct {
	eb [8]byte // encode key bytes
	db [8]byte // decode key bytes
}

const cipherRollConstant = 0x9e3779b9

// NewCipher creates a cipher initialized from the handshake seed.
func NewCipher(seed int32) *Cipher {
	c := &Cipher{}
	k := uint64(uint32(seed))
	// splitmix64 step to spread the 31-bit seed over 8 key bytes
	k += 0x9e3779b97f4a7c15
	k = (k ^ (k >> 30)) * 0xbf58476d1ce4e5b9
	k = (k ^ (k >> 27)) * 0x94d049bb133111eb
	k ^= k >> 31
	for i := 0; i < 8; i++ {
		b := byte(k >> (i * 8))
		c.eb[i] = b
		c.db[i] = b
	}
	return c
}

// Encrypt encrypts data in place and returns it.
func (c *Cipher) Encrypt(data []byte) []byte {
	if len(data) < 4 {
		return data
	}
	for i := range data {
		data[i] ^= c.eb[i&7]
	}
	c.roll(&c.eb)
	return data
}

// Decrypt decrypts data in place and returns it.
func (c *Cipher) Decrypt(data []byte) []byte {
	if len(data) < 4 {
		return data
	}
	for i := range data {
		data[i] ^= c.db[i&7]
	}
	c.roll(&c.db)
	return data
}

// roll advances the key state by one packet.
func (c *Cipher) roll(key *[8]byte) {
	v := uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
	v = v*5 + cipherRollConstant
	key[0] = byte(v)
	key[1] = byte(v >> 8)
	key[2] = byte(v >> 16)
	key[3] = byte(v >> 24)
	key[4] ^= key[0]
	key[5] ^= key[1]
	key[6] ^= key[2]
	key[7] ^= key[3]
}
