package wiidisc

import (
	"bytes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"
)

// Hash tree layout within the 0x400-byte hash region of every block:
//
//	0x000 H0[31]  SHA-1 per 0x400-byte payload segment
//	0x26c zeros
//	0x280 H1[8]   SHA-1 per block of the sub-group, replicated
//	0x320 zeros
//	0x340 H2[8]   SHA-1 per sub-group of the group, replicated
//	0x3e0 zeros
//
// SHA-1 over the eight H2 values is the group's entry in the partition
// H3 table. H0 covers block bytes 0x400..0x8000, the 31 segments of
// payload; the hash region itself is not hashed.
const (
	h0Offset = 0x000
	h0End    = h0Offset + 31*sha1.Size
	h1Offset = 0x280
	h1End    = h1Offset + 8*sha1.Size
	h2Offset = 0x340
	h2End    = h2Offset + 8*sha1.Size

	subGroupSize = 8 * BlockSize
)

var zeroIV [16]byte

// A HashError reports a mismatch found while verifying a group's hash
// tree.
type HashError struct {
	// Level is the hash tree level that failed, 0 through 3
	Level int
	// Block is the failing block within the group, or -1 for H3
	Block int
}

func (e *HashError) Error() string {
	if e.Level == 3 {
		return "wiidisc: H3 mismatch"
	}
	return fmt.Sprintf("wiidisc: H%d mismatch at block %d", e.Level, e.Block)
}

// hashGroup recomputes the three-level hash tree over the decrypted
// group in buf. When store is true the hashes and their zero padding
// are written back into each block's hash region; otherwise the stored
// values are compared and the first mismatch is returned. The returned
// digest is the group's H3 table entry.
func hashGroup(buf []byte, store bool) ([sha1.Size]byte, error) {
	var h2 [8 * sha1.Size]byte
	for s := 0; s < 8; s++ {
		sub := buf[s*subGroupSize:]
		var h1 [8 * sha1.Size]byte
		for c := 0; c < 8; c++ {
			blk := sub[c*BlockSize:]
			var h0 [31 * sha1.Size]byte
			for j := 0; j < 31; j++ {
				d := sha1.Sum(blk[(j+1)*0x400 : (j+2)*0x400])
				copy(h0[j*sha1.Size:], d[:])
			}
			d := sha1.Sum(h0[:])
			copy(h1[c*sha1.Size:], d[:])
			if store {
				copy(blk[h0Offset:], h0[:])
				zero(blk[h0End:0x280])
			} else if !bytes.Equal(blk[h0Offset:h0End], h0[:]) || !isZero(blk[h0End:0x280]) {
				return [sha1.Size]byte{}, &HashError{Level: 0, Block: s*8 + c}
			}
		}
		d := sha1.Sum(h1[:])
		copy(h2[s*sha1.Size:], d[:])
		for c := 0; c < 8; c++ {
			blk := sub[c*BlockSize:]
			if store {
				copy(blk[h1Offset:], h1[:])
				zero(blk[h1End:h2Offset])
			} else if !bytes.Equal(blk[h1Offset:h1End], h1[:]) || !isZero(blk[h1End:h2Offset]) {
				return [sha1.Size]byte{}, &HashError{Level: 1, Block: s*8 + c}
			}
		}
	}
	h3 := sha1.Sum(h2[:])
	for s := 0; s < 8; s++ {
		sub := buf[s*subGroupSize:]
		for c := 0; c < 8; c++ {
			blk := sub[c*BlockSize:]
			if store {
				copy(blk[h2Offset:], h2[:])
				zero(blk[h2End:blockDataOffset])
			} else if !bytes.Equal(blk[h2Offset:h2End], h2[:]) || !isZero(blk[h2End:blockDataOffset]) {
				return [sha1.Size]byte{}, &HashError{Level: 2, Block: s*8 + c}
			}
		}
	}
	return h3, nil
}

// hashEncryptGroup rebuilds the hash tree of the decrypted group in buf
// and encrypts every block in place: the hash region with a zero IV,
// then the payload with ciphertext bytes 0x3d0..0x3e0 of the hash region
// as its IV. It returns the group's H3 table entry.
func hashEncryptGroup(buf []byte, block cipher.Block) [sha1.Size]byte {
	h3, _ := hashGroup(buf, true)
	for b := 0; b < blocksPerGroup; b++ {
		blk := buf[b*BlockSize:][:BlockSize]
		cipher.NewCBCEncrypter(block, zeroIV[:]).CryptBlocks(blk[:blockDataOffset], blk[:blockDataOffset])
		cipher.NewCBCEncrypter(block, blk[0x3d0:0x3e0]).CryptBlocks(blk[blockDataOffset:], blk[blockDataOffset:])
	}
	return h3
}

// decryptGroupData decrypts every block payload in place, leaving the
// hash regions encrypted. The payload IV is read from the ciphertext of
// the hash region before it would be destroyed.
func decryptGroupData(buf []byte, block cipher.Block) {
	for b := 0; b < blocksPerGroup; b++ {
		blk := buf[b*BlockSize:][:BlockSize]
		cipher.NewCBCDecrypter(block, blk[0x3d0:0x3e0]).CryptBlocks(blk[blockDataOffset:], blk[blockDataOffset:])
	}
}

// decryptVerifyGroup decrypts the whole group in place, hash regions
// included, recomputes the hash tree against the stored values and
// checks the group digest against h3Entry.
func decryptVerifyGroup(buf []byte, block cipher.Block, h3Entry []byte) error {
	decryptGroupData(buf, block)
	for b := 0; b < blocksPerGroup; b++ {
		blk := buf[b*BlockSize:][:BlockSize]
		cipher.NewCBCDecrypter(block, zeroIV[:]).CryptBlocks(blk[:blockDataOffset], blk[:blockDataOffset])
	}
	h3, err := hashGroup(buf, false)
	if err != nil {
		return err
	}
	if !bytes.Equal(h3[:], h3Entry) {
		return &HashError{Level: 3, Block: -1}
	}
	return nil
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}
