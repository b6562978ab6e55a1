package wiidisc

import "errors"

// A DOLHeader is the fixed section table at the start of the main
// executable image.
type DOLHeader struct {
	TextOff    [7]uint32
	DataOff    [11]uint32
	TextStarts [7]uint32
	DataStarts [11]uint32
	TextSizes  [7]uint32
	DataSizes  [11]uint32
	BSSStart   uint32
	BSSSize    uint32
	EntryPoint uint32
}

const dolHeaderSize = 0x100

// ImageSize derives the total image size: the offset of the first text
// section plus the sum of every section size.
func (h *DOLHeader) ImageSize() (int64, error) {
	size := int64(h.TextOff[0])
	for _, s := range h.TextSizes {
		size += int64(s)
	}
	for _, s := range h.DataSizes {
		size += int64(s)
	}
	if size > 1<<32 {
		return 0, errors.New("overflow calculating size")
	}
	return size, nil
}

// An ApploaderHeader prefixes the apploader image; the image is 32
// header bytes followed by Size1 + Size2 bytes of code.
type ApploaderHeader struct {
	_     [0x14]byte
	Size1 uint32
	Size2 uint32
}

const apploaderHeaderSize = 0x20
