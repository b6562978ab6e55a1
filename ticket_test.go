package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

func TestTitleKeyRoundTrip(t *testing.T) {
	for index := uint8(0); index < 2; index++ {
		ticket := Ticket{CommonKeyIndex: index}
		copy(ticket.TitleID[:], []byte{0, 1, 0, 0, 0x30, 0x31, 0x32, 0x33})

		key := [keySize]byte{0xde, 0xad, 0xbe, 0xef, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
		if err := ticket.SetTitleKey(key); err != nil {
			t.Fatal(err)
		}
		if ticket.EncryptedTitleKey == key {
			t.Fatal("SetTitleKey() left the key in the clear")
		}
		got, err := ticket.DecryptedTitleKey()
		if err != nil {
			t.Fatal(err)
		}
		if got != key {
			t.Fatalf("DecryptedTitleKey() = % x, want % x", got, key)
		}
	}
}

func TestTitleKeyIV(t *testing.T) {
	ticket := Ticket{}
	copy(ticket.TitleID[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	key := [keySize]byte{1}
	if err := ticket.SetTitleKey(key); err != nil {
		t.Fatal(err)
	}

	// decrypt by hand with the documented IV construction
	block, err := aes.NewCipher(commonKeys[0][:])
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, ticket.TitleID[:])
	decrypted := make([]byte, keySize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, ticket.EncryptedTitleKey[:])
	if !bytes.Equal(decrypted, key[:]) {
		t.Fatalf("decrypted = % x, want % x", decrypted, key)
	}
}

func TestInvalidCommonKeyIndex(t *testing.T) {
	ticket := Ticket{CommonKeyIndex: 7}
	if _, err := ticket.DecryptedTitleKey(); err == nil {
		t.Fatal("DecryptedTitleKey() = nil error, want invalid index")
	}
}
