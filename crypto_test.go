package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"testing"
)

func testCipher(t *testing.T) cipher.Block {
	t.Helper()
	block, err := aes.NewCipher(make([]byte, keySize))
	if err != nil {
		t.Fatal(err)
	}
	return block
}

// A group of zero payload has identical hashes at every level, which
// pins down the layout: 31 H0 entries per block, eight replicated H1
// and H2 entries, and zero padding between them.
func TestHashTreeZeroGroup(t *testing.T) {
	block := testCipher(t)
	buf := make([]byte, GroupSize)
	entry := hashEncryptGroup(buf, block)

	segment := sha1.Sum(make([]byte, 0x400))
	h0 := bytes.Repeat(segment[:], 31)
	h1Entry := sha1.Sum(h0)
	h1 := bytes.Repeat(h1Entry[:], 8)
	h2Entry := sha1.Sum(h1)
	h2 := bytes.Repeat(h2Entry[:], 8)
	h3Entry := sha1.Sum(h2)

	if entry != h3Entry {
		t.Fatalf("H3 entry = %x, want %x", entry, h3Entry)
	}

	if err := decryptVerifyGroup(buf, block, entry[:]); err != nil {
		t.Fatal(err)
	}
	for b := 0; b < blocksPerGroup; b++ {
		blk := buf[b*BlockSize:][:BlockSize]
		if !bytes.Equal(blk[h0Offset:h0End], h0) {
			t.Fatalf("block %d H0 mismatch", b)
		}
		if !bytes.Equal(blk[h1Offset:h1End], h1) {
			t.Fatalf("block %d H1 mismatch", b)
		}
		if !bytes.Equal(blk[h2Offset:h2End], h2) {
			t.Fatalf("block %d H2 mismatch", b)
		}
		for _, pad := range [][2]int{{h0End, h1Offset}, {h1End, h2Offset}, {h2End, blockDataOffset}} {
			if !isZero(blk[pad[0]:pad[1]]) {
				t.Fatalf("block %d padding %#x..%#x not zero", b, pad[0], pad[1])
			}
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	block := testCipher(t)
	buf := make([]byte, GroupSize)
	for b := 0; b < blocksPerGroup; b++ {
		payload := buf[b*BlockSize+blockDataOffset:][:BlockDataSize]
		for i := range payload {
			payload[i] = byte(b + i)
		}
	}
	want := make([]byte, GroupSize)
	copy(want, buf)

	entry := hashEncryptGroup(buf, block)
	if bytes.Equal(buf, want) {
		t.Fatal("hashEncryptGroup() left the group in the clear")
	}
	if err := decryptVerifyGroup(buf, block, entry[:]); err != nil {
		t.Fatal(err)
	}
	for b := 0; b < blocksPerGroup; b++ {
		off := b*BlockSize + blockDataOffset
		if !bytes.Equal(buf[off:off+BlockDataSize], want[off:off+BlockDataSize]) {
			t.Fatalf("block %d payload does not round trip", b)
		}
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	block := testCipher(t)

	corrupt := func(t *testing.T, mangle func(buf []byte, entry []byte), level, blockIndex int) {
		t.Helper()
		buf := make([]byte, GroupSize)
		entry := hashEncryptGroup(buf, block)
		plain := make([]byte, GroupSize)
		copy(plain, buf)
		// decrypt, mangle, re-encrypt without rehashing
		decryptGroupData(plain, block)
		for b := 0; b < blocksPerGroup; b++ {
			blk := plain[b*BlockSize:][:BlockSize]
			cipher.NewCBCDecrypter(block, zeroIV[:]).CryptBlocks(blk[:blockDataOffset], blk[:blockDataOffset])
		}
		mangle(plain, entry[:])
		for b := 0; b < blocksPerGroup; b++ {
			blk := plain[b*BlockSize:][:BlockSize]
			cipher.NewCBCEncrypter(block, zeroIV[:]).CryptBlocks(blk[:blockDataOffset], blk[:blockDataOffset])
			cipher.NewCBCEncrypter(block, blk[0x3d0:0x3e0]).CryptBlocks(blk[blockDataOffset:], blk[blockDataOffset:])
		}
		err := decryptVerifyGroup(plain, block, entry[:])
		var hashErr *HashError
		if !errors.As(err, &hashErr) {
			t.Fatalf("decryptVerifyGroup() = %v, want HashError", err)
		}
		if hashErr.Level != level || hashErr.Block != blockIndex {
			t.Fatalf("HashError = H%d block %d, want H%d block %d", hashErr.Level, hashErr.Block, level, blockIndex)
		}
	}

	t.Run("payload", func(t *testing.T) {
		corrupt(t, func(buf, _ []byte) {
			buf[3*BlockSize+blockDataOffset+0x400] ^= 1
		}, 0, 3)
	})
	t.Run("h1", func(t *testing.T) {
		corrupt(t, func(buf, _ []byte) {
			buf[5*BlockSize+h1Offset] ^= 1
		}, 1, 5)
	})
	t.Run("h2", func(t *testing.T) {
		corrupt(t, func(buf, _ []byte) {
			buf[9*BlockSize+h2Offset] ^= 1
		}, 2, 9)
	})
	t.Run("h3", func(t *testing.T) {
		corrupt(t, func(_, entry []byte) {
			entry[0] ^= 1
		}, 3, -1)
	})
	t.Run("padding", func(t *testing.T) {
		corrupt(t, func(buf, _ []byte) {
			buf[2*BlockSize+h0End] = 1
		}, 0, 2)
	})
}
