/*
Package wiidisc implements reading, writing and rebuilding of Nintendo Wii
optical disc images. A disc image is an unencrypted shell holding one or
more partitions; each partition carries a ticket, title metadata (TMD), a
certificate chain and an AES-128-CBC encrypted data region protected by an
interleaved SHA-1 hash tree. The encrypted region exposes a game file
system described by a file system table (FST).

Example usage:

	import (
		"os"

		"github.com/bodgit/wiidisc"
	)

	func main() {
		r, err := wiidisc.OpenReader(os.Args[1])
		if err != nil {
			panic(err)
		}
		defer r.Close()

		d, err := wiidisc.NewIsoReader(r)
		if err != nil {
			panic(err)
		}

		for _, e := range d.Partitions() {
			if e.Type != wiidisc.PartitionData {
				continue
			}

			p, err := d.OpenPartition(e)
			if err != nil {
				panic(err)
			}

			if err = p.Extract(os.Args[2]); err != nil {
				panic(err)
			}
		}
	}
*/
package wiidisc

import (
	"errors"
	"io"

	"github.com/spf13/afero"
	"go4.org/readerutil"
)

const (
	// Extension is the conventional file extension used
	Extension = ".iso"
	// BlockSize is the size of one encrypted block, hash region included
	BlockSize = 0x8000
	// BlockDataSize is the payload carried by one block
	BlockDataSize = BlockSize - blockDataOffset
	// GroupSize is the size of one hash group of 64 blocks
	GroupSize = BlockSize * blocksPerGroup
	// GroupDataSize is the payload carried by one group
	GroupDataSize = BlockDataSize * blocksPerGroup

	blockDataOffset = 0x400
	blocksPerGroup  = 64
	h3Size          = 0x18000
	keySize         = 16

	// WiiMagic is found in the disc header of every Wii disc
	WiiMagic uint32 = 0x5d1c9ea3
	// GCNMagic is found in the disc header of every GameCube disc
	GCNMagic uint32 = 0xc2339f3d
)

// Common keys used to decrypt the title key carried in a ticket. The
// ticket selects one by index.
var commonKeys = [2][keySize]byte{
	/* Normal */
	{0xeb, 0xe4, 0x2a, 0x22, 0x5e, 0x85, 0x93, 0xe4, 0x48, 0xd9, 0xc5, 0x45, 0x73, 0x81, 0xaa, 0xf7},
	/* Korean */
	{0x63, 0xb8, 0x2b, 0xb4, 0xf4, 0x61, 0x4e, 0x2e, 0x13, 0xf2, 0xfe, 0xfb, 0xba, 0x4c, 0x9b, 0x7e},
}

var fs = afero.NewOsFs()

var errUnsupported = errors.New("wiidisc: unsupported operation")

// A Reader has Read, Seek, ReadAt, and Size methods.
type Reader interface {
	io.Reader
	io.Seeker
	readerutil.SizeReaderAt
}

// A ReadCloser extends the Reader interface to also have a Close method.
type ReadCloser interface {
	Reader
	io.Closer
}

// only works with powers of 2
func alignNext(off, alignment int64) int64 {
	return (off + alignment - 1) &^ (alignment - 1)
}
