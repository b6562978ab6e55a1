package wiidisc

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"reflect"
	"testing"
)

func testTMD() *TMD {
	tmd := &TMD{
		SigType:      SigRsa2048,
		Version:      1,
		IOSIDMajor:   1,
		IOSIDMinor:   0x35,
		TitleIDMajor: 0x10000,
		TitleIDMinor: [4]byte{'S', 'O', 'U', 'E'},
		TitleType:    1,
		GroupID:      0x3031,
		TitleVersion: 0x1c,
		Contents: []Content{
			{ID: 0, Index: 0, Type: 1, Size: 0x1f0000},
		},
	}
	copy(tmd.SigIssuer[:], "Root-CA00000001-CP00000004")
	copy(tmd.Sig[:], bytes.Repeat([]byte{0xa5}, len(tmd.Sig)))
	return tmd
}

func TestTMDRoundTrip(t *testing.T) {
	tmd := testTMD()
	buf, err := tmd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != tmdHeadSize+36 {
		t.Fatalf("marshalled size = %#x, want %#x", len(buf), tmdHeadSize+36)
	}
	got, err := ReadTMD(bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, tmd) {
		t.Fatalf("decoded TMD = %+v, want %+v", got, tmd)
	}
}

func TestTMDContentOffsets(t *testing.T) {
	tmd := testTMD()
	tmd.Contents[0].Size = 0x123456789a
	for i := range tmd.Contents[0].Hash {
		tmd.Contents[0].Hash[i] = byte(i + 1)
	}
	buf, err := tmd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint64(buf[tmdContentSizeOffset:]); got != 0x123456789a {
		t.Fatalf("content 0 size at %#x = %#x", tmdContentSizeOffset, got)
	}
	if !bytes.Equal(buf[tmdContentHashOffset:tmdContentHashOffset+sha1.Size], tmd.Contents[0].Hash[:]) {
		t.Fatalf("content 0 hash is not at %#x", tmdContentHashOffset)
	}
}

func TestFakeSign(t *testing.T) {
	tmd := testTMD()
	buf, err := tmd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	h3 := make([]byte, h3Size)
	for i := range h3 {
		h3[i] = byte(i * 3)
	}
	const dataSize = 3 * GroupDataSize

	fakeSign(buf, h3, dataSize)

	if got := binary.BigEndian.Uint64(buf[tmdContentSizeOffset:]); got != dataSize {
		t.Fatalf("content 0 size = %#x, want %#x", got, int64(dataSize))
	}
	digest := sha1.Sum(h3)
	if !bytes.Equal(buf[tmdContentHashOffset:tmdContentHashOffset+sha1.Size], digest[:]) {
		t.Fatal("content 0 hash is not SHA-1 of the H3 table")
	}
	if !isZero(buf[tmdSigOffset:tmdSigEnd]) {
		t.Fatal("signature region is not zeroed")
	}
	if sum := sha1.Sum(buf[tmdHashedFrom:]); sum[0] != 0 {
		t.Fatalf("SHA-1 over %#x.. starts with %#x, want 0", tmdHashedFrom, sum[0])
	}
}
