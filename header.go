package wiidisc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// A ShiftedOffset is a 64-bit byte offset persisted on disc as the
// offset shifted right by two; on-disc offsets are always 4-byte
// aligned.
type ShiftedOffset uint32

// Offset returns the real byte offset.
func (s ShiftedOffset) Offset() int64 {
	return int64(s) << 2
}

func shifted(off int64) ShiftedOffset {
	return ShiftedOffset(off >> 2)
}

// A DiscHeader sits at offset 0 of the outer disc image and at offset 0
// of the decrypted data region of every partition. All integers are
// big-endian.
type DiscHeader struct {
	GameID             [6]byte
	DiscNum            uint8
	DiscVersion        uint8
	AudioStreaming     uint8
	AudioStreamBufSize uint8
	_                  [14]byte
	// WiiMagic holds 0x5d1c9ea3 on a Wii disc
	WiiMagic uint32
	// GCNMagic holds 0xc2339f3d on a GameCube disc
	GCNMagic  uint32
	GameTitle [64]byte
	// DisableHashVerification turns off hash checking when non-zero
	DisableHashVerification uint8
	// DisableDiscEnc turns off disc encryption and H3 loading when non-zero
	DisableDiscEnc uint8
	_              [0x39e]byte
	DebugMonOff    uint32
	DebugLoadAddr  uint32
	_              [0x18]byte
	// DolOff is the offset of the main DOL
	DolOff ShiftedOffset
	// FstOff is the offset of the file system table
	FstOff ShiftedOffset
	// FstSz is the file system table size
	FstSz ShiftedOffset
	// FstMaxSz is the maximum file system table size
	FstMaxSz         ShiftedOffset
	FstMemoryAddress uint32
	UserPosition     uint32
	UserSz           uint32
	_                [4]byte
}

const discHeaderSize = 0x440

// Title returns the game title with trailing padding stripped.
func (h *DiscHeader) Title() string {
	return string(bytes.TrimRight(h.GameTitle[:], "\x00"))
}

// SetTitle replaces the game title, truncating it to the space available.
func (h *DiscHeader) SetTitle(title string) {
	h.GameTitle = [64]byte{}
	copy(h.GameTitle[:], title)
}

// IsWii reports whether the header carries the Wii magic word.
func (h *DiscHeader) IsWii() bool {
	return h.WiiMagic == WiiMagic
}

// PartitionType identifies the kind of a partition.
type PartitionType uint32

const (
	// PartitionData carries the game file system
	PartitionData PartitionType = iota
	// PartitionUpdate carries a system update
	PartitionUpdate
	// PartitionChannel carries an installable channel
	PartitionChannel
)

func (t PartitionType) String() string {
	switch t {
	case PartitionData:
		return "DATA"
	case PartitionUpdate:
		return "UPDATE"
	case PartitionChannel:
		return "CHANNEL"
	default:
		return fmt.Sprintf("unknown (%d)", uint32(t))
	}
}

// ParsePartitionType maps a case-insensitive name to a PartitionType.
func ParsePartitionType(s string) (PartitionType, error) {
	switch strings.ToLower(s) {
	case "data":
		return PartitionData, nil
	case "update":
		return PartitionUpdate, nil
	case "channel":
		return PartitionChannel, nil
	}
	return 0, fmt.Errorf("wiidisc: unknown partition type %q", s)
}

// A PartitionEntry locates one partition within the outer disc image.
type PartitionEntry struct {
	DataOff ShiftedOffset
	Type    PartitionType
}

// Offset returns the partition origin within the outer image.
func (e PartitionEntry) Offset() int64 {
	return e.DataOff.Offset()
}

const (
	partitionTableOffset = 0x40000
	regionOffset         = 0x4e000
	firstPartitionOffset = 0x50000
)

// readPartitions reads the four partition table descriptors at 0x40000
// and collects every entry they point at. Which descriptor an entry
// came from is not preserved.
func readPartitions(r io.ReadSeeker) ([]PartitionEntry, error) {
	if _, err := r.Seek(partitionTableOffset, io.SeekStart); err != nil {
		return nil, err
	}
	var parts []PartitionEntry
	for i := 0; i < 4; i++ {
		var table struct {
			Count  uint32
			Offset ShiftedOffset
		}
		if err := binary.Read(r, binary.BigEndian, &table); err != nil {
			return nil, err
		}
		if table.Count == 0 {
			continue
		}
		if table.Count > 0x100 {
			return nil, fmt.Errorf("wiidisc: invalid partition count %d at offset %#x", table.Count, partitionTableOffset+8*i)
		}
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		if _, err = r.Seek(table.Offset.Offset(), io.SeekStart); err != nil {
			return nil, err
		}
		for j := uint32(0); j < table.Count; j++ {
			var entry PartitionEntry
			if err = binary.Read(r, binary.BigEndian, &entry); err != nil {
				return nil, err
			}
			parts = append(parts, entry)
		}
		if _, err = r.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return parts, nil
}

// errBadMagic reports a disc header without the Wii magic word.
var errBadMagic = errors.New("wiidisc: bad magic")
