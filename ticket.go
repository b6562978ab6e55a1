package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/connesc/cipherio"
)

// SigType identifies the signature algorithm of a signed structure.
type SigType uint32

const (
	// SigRsa4096 is an RSA-4096 signature
	SigRsa4096 SigType = 0x00010000
	// SigRsa2048 is an RSA-2048 signature
	SigRsa2048 SigType = 0x00010001
	// SigEllipticCurve is an ECC signature
	SigEllipticCurve SigType = 0x00010002
)

// KeyType identifies the public key algorithm of a certificate.
type KeyType uint32

const (
	// KeyRsa4096 is an RSA-4096 public key
	KeyRsa4096 KeyType = iota
	// KeyRsa2048 is an RSA-2048 public key
	KeyRsa2048
)

// A TimeLimit restricts how long a title may be used.
type TimeLimit struct {
	Enable uint32
	Limit  uint32
}

// A Ticket grants access to a partition and carries the encrypted title
// key used to decrypt its data region. The structure is 0x2a4 bytes on
// disc.
type Ticket struct {
	SigType   SigType
	Sig       [0x100]byte
	_         [60]byte
	SigIssuer [0x40]byte
	ECDH      [0x3c]byte
	_         [3]byte
	// EncryptedTitleKey is the title key encrypted with the common key
	// selected by CommonKeyIndex, using the title ID as the IV
	EncryptedTitleKey [keySize]byte
	_                 [1]byte
	TicketID          [8]byte
	ConsoleID         [4]byte
	TitleID           [8]byte
	_                 [2]byte
	TicketVersion     uint16
	PermittedTitles   uint32
	PermitMask        uint32
	TitleExport       uint8
	CommonKeyIndex    uint8
	_                 [48]byte
	AccessPermissions [0x40]byte
	_                 [2]byte
	TimeLimits        [8]TimeLimit
}

const ticketSize = 0x2a4

func commonKeyCipher(index uint8) (cipher.Block, error) {
	if int(index) >= len(commonKeys) {
		return nil, fmt.Errorf("wiidisc: invalid common key index %d", index)
	}
	return aes.NewCipher(commonKeys[index][:])
}

// titleKeyIV builds the CBC IV used for the title key, the title ID
// followed by zeros.
func (t *Ticket) titleKeyIV() []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, t.TitleID[:])
	return iv
}

// DecryptedTitleKey decrypts the title key with the selected common key.
func (t *Ticket) DecryptedTitleKey() ([keySize]byte, error) {
	var key [keySize]byte
	block, err := commonKeyCipher(t.CommonKeyIndex)
	if err != nil {
		return key, err
	}
	r := cipherio.NewBlockReader(bytes.NewReader(t.EncryptedTitleKey[:]), cipher.NewCBCDecrypter(block, t.titleKeyIV()))
	if _, err = io.ReadFull(r, key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// SetTitleKey encrypts key with the selected common key and stores it
// in EncryptedTitleKey.
func (t *Ticket) SetTitleKey(key [keySize]byte) error {
	block, err := commonKeyCipher(t.CommonKeyIndex)
	if err != nil {
		return err
	}
	cipher.NewCBCEncrypter(block, t.titleKeyIV()).CryptBlocks(t.EncryptedTitleKey[:], key[:])
	return nil
}

// A PartitionHeader sits at a partition's origin within the outer disc
// image; the TMD follows immediately at offset 704. All offsets are
// relative to the partition origin.
type PartitionHeader struct {
	Ticket             Ticket
	TMDSize            uint32
	TMDOff             ShiftedOffset
	CertChainSize      uint32
	CertChainOff       ShiftedOffset
	GlobalHashTableOff ShiftedOffset
	DataOff            ShiftedOffset
	DataSize           ShiftedOffset
}

const partitionHeaderSize = 704
