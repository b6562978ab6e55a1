package wiidisc

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
)

// A Content record within a TMD names one piece of title content along
// with its size and SHA-1 hash. For a disc partition, content 0 covers
// the encrypted data region and its hash is SHA-1 of the H3 table.
type Content struct {
	ID    uint32
	Index uint16
	Type  uint16
	Size  uint64
	Hash  [sha1.Size]byte
}

// tmdHead is the fixed-size prefix of a TMD; the content records follow
// immediately.
type tmdHead struct {
	SigType          SigType
	Sig              [0x100]byte
	_                [60]byte
	SigIssuer        [0x40]byte
	Version          uint8
	CACRLVersion     uint8
	SignerCRLVersion uint8
	_                [1]byte
	IOSIDMajor       uint32
	IOSIDMinor       uint32
	TitleIDMajor     uint32
	TitleIDMinor     [4]byte
	TitleType        uint32
	GroupID          uint16
	// FakesignPadding is perturbed by the fake-sign search until the
	// TMD hash starts with a zero byte
	FakesignPadding [56]byte
	_               [6]byte
	AccessFlags     uint32
	TitleVersion    uint16
	NumContents     uint16
	BootIndex       uint16
	_               [2]byte
}

const (
	tmdHeadSize = 0x1e4

	// offsets within the marshalled TMD used by the fake-sign fixup
	tmdSigOffset         = 0x04
	tmdSigEnd            = 0x104
	tmdHashedFrom        = 0x140
	tmdFakesignOffset    = 0x19a
	tmdContentSizeOffset = 0x1ec
	tmdContentHashOffset = 0x1f4
)

// A TMD is a title metadata block.
type TMD struct {
	SigType          SigType
	Sig              [0x100]byte
	SigIssuer        [0x40]byte
	Version          uint8
	CACRLVersion     uint8
	SignerCRLVersion uint8
	IOSIDMajor       uint32
	IOSIDMinor       uint32
	TitleIDMajor     uint32
	TitleIDMinor     [4]byte
	TitleType        uint32
	GroupID          uint16
	FakesignPadding  [56]byte
	AccessFlags      uint32
	TitleVersion     uint16
	BootIndex        uint16
	Contents         []Content
}

// ReadTMD reads a TMD from r.
func ReadTMD(r io.Reader) (*TMD, error) {
	var head tmdHead
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, err
	}
	if head.NumContents > 512 {
		return nil, fmt.Errorf("wiidisc: invalid TMD content count %d", head.NumContents)
	}
	contents := make([]Content, head.NumContents)
	if err := binary.Read(r, binary.BigEndian, contents); err != nil {
		return nil, err
	}
	return &TMD{
		SigType:          head.SigType,
		Sig:              head.Sig,
		SigIssuer:        head.SigIssuer,
		Version:          head.Version,
		CACRLVersion:     head.CACRLVersion,
		SignerCRLVersion: head.SignerCRLVersion,
		IOSIDMajor:       head.IOSIDMajor,
		IOSIDMinor:       head.IOSIDMinor,
		TitleIDMajor:     head.TitleIDMajor,
		TitleIDMinor:     head.TitleIDMinor,
		TitleType:        head.TitleType,
		GroupID:          head.GroupID,
		FakesignPadding:  head.FakesignPadding,
		AccessFlags:      head.AccessFlags,
		TitleVersion:     head.TitleVersion,
		BootIndex:        head.BootIndex,
		Contents:         contents,
	}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *TMD) MarshalBinary() ([]byte, error) {
	head := tmdHead{
		SigType:          t.SigType,
		Sig:              t.Sig,
		SigIssuer:        t.SigIssuer,
		Version:          t.Version,
		CACRLVersion:     t.CACRLVersion,
		SignerCRLVersion: t.SignerCRLVersion,
		IOSIDMajor:       t.IOSIDMajor,
		IOSIDMinor:       t.IOSIDMinor,
		TitleIDMajor:     t.TitleIDMajor,
		TitleIDMinor:     t.TitleIDMinor,
		TitleType:        t.TitleType,
		GroupID:          t.GroupID,
		FakesignPadding:  t.FakesignPadding,
		AccessFlags:      t.AccessFlags,
		TitleVersion:     t.TitleVersion,
		NumContents:      uint16(len(t.Contents)),
		BootIndex:        t.BootIndex,
	}
	b := new(bytes.Buffer)
	b.Grow(tmdHeadSize + len(t.Contents)*36)
	if err := binary.Write(b, binary.BigEndian, &head); err != nil {
		return nil, err
	}
	if err := binary.Write(b, binary.BigEndian, t.Contents); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// fakeSign rewrites the marshalled TMD in buf so that content 0 names
// the given H3 table and data size, then perturbs the padding region
// until SHA-1 over buf[0x140:] starts with a zero byte, which is what
// downstream fake-sign checks look for. The signature is zeroed first
// so the search only has to consider the padding bytes.
//
// The loop counter is stored little-endian; only the leading hash byte
// is externally observable, so the byte order is a fixed documented
// choice rather than a wire requirement.
func fakeSign(buf []byte, h3 []byte, dataSize int64) {
	digest := sha1.Sum(h3)
	copy(buf[tmdContentHashOffset:tmdContentHashOffset+sha1.Size], digest[:])
	binary.BigEndian.PutUint64(buf[tmdContentSizeOffset:], uint64(dataSize))
	for i := tmdSigOffset; i < tmdSigEnd; i++ {
		buf[i] = 0
	}
	for i := uint64(0); ; i++ {
		binary.LittleEndian.PutUint64(buf[tmdFakesignOffset:], i)
		if digest := sha1.Sum(buf[tmdHashedFrom:]); digest[0] == 0 {
			return
		}
	}
}
