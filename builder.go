package wiidisc

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/bodgit/wiidisc/fst"
	"github.com/hashicorp/go-multierror"
)

// A PartitionDefinition supplies the pieces of a partition to the
// builder. File offsets and lengths in the supplied tree are
// overwritten as the data is laid out; apart from weighting progress
// (see AddPartition), only names and structure are used. FileData is
// called once per file
// in the order the table is written, with the full path, and returns
// the data along with a count of extra padding bytes to insert after
// it.
type PartitionDefinition interface {
	DiscHeader() (*DiscHeader, error)
	BI2() ([]byte, error)
	Apploader() ([]byte, error)
	FST() (*fst.Tree, error)
	DOL() ([]byte, error)
	FileData(path []string) ([]byte, uint32, error)
}

// A DiscBuilder assembles a disc image: partitions are added in order,
// then Finish writes the outer header, region info and partition
// table.
type DiscBuilder struct {
	w          io.ReadWriteSeeker
	header     DiscHeader
	region     [32]byte
	dataOffset int64
	parts      []PartitionEntry
}

// NewDiscBuilder returns a builder writing to w, which is expected to
// be empty.
func NewDiscBuilder(w io.ReadWriteSeeker, header DiscHeader, region [32]byte) *DiscBuilder {
	return &DiscBuilder{
		w:          w,
		header:     header,
		region:     region,
		dataOffset: firstPartitionOffset,
	}
}

const (
	partitionDataOffset = 0x20000
	hashTableOffset     = 0x8000
	fileDataAlignment   = 0x40
	writeChunkSize      = 0x1000000
)

// AddPartition lays out one partition at the next free offset: the
// partition header, TMD and certificate chain in the clear, then the
// boot header, bi2, apploader, DOL, file system table and file data
// inside the encrypted region. The table is written twice, first to
// reserve space and again once the file offsets are known, and the TMD
// is fake-signed against the final H3 table. The optional progress
// callback receives percentages from 0 to 100, byte-weighted when the
// supplied tree carries file lengths and file-count-weighted otherwise.
func (b *DiscBuilder) AddPartition(ptype PartitionType, ticket Ticket, tmd *TMD, certs [3]Certificate, def PartitionDefinition, progress func(int)) error {
	if progress == nil {
		progress = func(int) {}
	}
	progress(0)

	window := NewWindow(b.w, b.dataOffset, -1)
	b.parts = append(b.parts, PartitionEntry{
		DataOff: shifted(b.dataOffset),
		Type:    ptype,
	})

	header := PartitionHeader{
		Ticket: ticket,
		TMDOff: shifted(partitionHeaderSize),
	}

	// placeholder partition header, rewritten at the end
	if _, err := window.Write(make([]byte, partitionHeaderSize)); err != nil {
		return err
	}

	if len(tmd.Contents) == 0 {
		return errors.New("wiidisc: TMD has no content records")
	}
	tmdBuf, err := tmd.MarshalBinary()
	if err != nil {
		return err
	}
	header.TMDSize = uint32(len(tmdBuf))
	if _, err = window.Write(tmdBuf); err != nil {
		return err
	}

	certOff := alignNext(partitionHeaderSize+int64(header.TMDSize), 0x20)
	header.CertChainOff = shifted(certOff)
	if _, err = window.Seek(certOff, io.SeekStart); err != nil {
		return err
	}
	n, err := writeCertificateChain(window, certs)
	if err != nil {
		return err
	}
	header.CertChainSize = uint32(n)

	key, err := ticket.DecryptedTitleKey()
	if err != nil {
		return err
	}
	stream, err := NewCryptWriter(window, partitionDataOffset, key, -1, 0)
	if err != nil {
		return err
	}

	source, err := def.FST()
	if err != nil {
		return err
	}
	totalFiles, totalBytes := 0, int64(0)
	_ = source.Walk(func(_ []string, n *fst.Node) error {
		if !n.Dir {
			totalFiles++
			totalBytes += int64(n.Length)
		}
		return nil
	})
	byteProgress := totalBytes != 0

	enc, err := fst.NewEncoder(source)
	if err != nil {
		return err
	}

	boot, err := def.DiscHeader()
	if err != nil {
		return err
	}

	bi2, err := def.BI2()
	if err != nil {
		return err
	}
	if _, err = stream.Seek(bi2Offset, io.SeekStart); err != nil {
		return err
	}
	if _, err = stream.Write(bi2); err != nil {
		return err
	}

	// the apploader always sits at the same address
	apploader, err := def.Apploader()
	if err != nil {
		return err
	}
	if _, err = stream.Seek(apploaderOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err = stream.Write(apploader); err != nil {
		return err
	}

	dol, err := def.DOL()
	if err != nil {
		return err
	}
	pos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	boot.DolOff = shifted(alignNext(pos, 0x20))
	if _, err = stream.Seek(boot.DolOff.Offset(), io.SeekStart); err != nil {
		return err
	}
	if _, err = stream.Write(dol); err != nil {
		return err
	}

	// reserve space for the file system table; it is written again
	// once the file offsets are known
	if pos, err = stream.Seek(0, io.SeekCurrent); err != nil {
		return err
	}
	boot.FstOff = shifted(alignNext(pos, 0x20))
	if _, err = stream.Seek(boot.FstOff.Offset(), io.SeekStart); err != nil {
		return err
	}
	if _, err = enc.WriteTo(stream); err != nil {
		return err
	}
	if _, err = stream.Write(make([]byte, 4)); err != nil {
		return err
	}
	if pos, err = stream.Seek(0, io.SeekCurrent); err != nil {
		return err
	}
	boot.FstSz = shifted(pos - boot.FstOff.Offset())
	boot.FstMaxSz = boot.FstSz

	if _, err = stream.Seek(alignNext(pos, fileDataAlignment), io.SeekStart); err != nil {
		return err
	}
	processedFiles, processedBytes := 0, int64(0)
	err = enc.WalkFiles(func(path []string, offset *int64, length *uint32) error {
		pos, err := stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		*offset = pos
		data, padding, err := def.FileData(path)
		if err != nil {
			return err
		}
		*length = uint32(len(data))
		for len(data) > 0 {
			batch := len(data)
			if batch > writeChunkSize {
				batch = writeChunkSize
			}
			if _, err = stream.Write(data[:batch]); err != nil {
				return err
			}
			data = data[batch:]
			if byteProgress {
				processedBytes += int64(batch)
				progress(int(processedBytes * 100 / totalBytes))
			}
		}
		if pos, err = stream.Seek(0, io.SeekCurrent); err != nil {
			return err
		}
		if err = writeZeros(stream, alignNext(pos+int64(padding), fileDataAlignment)-pos); err != nil {
			return err
		}
		processedFiles++
		if !byteProgress && totalFiles > 0 {
			progress(processedFiles * 100 / totalFiles)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// round the data region up to whole hash groups
	if pos, err = stream.Seek(0, io.SeekCurrent); err != nil {
		return err
	}
	groups := (pos + GroupDataSize - 1) / GroupDataSize
	totalSize := groups * GroupDataSize
	totalEncryptedSize := groups * GroupSize

	b.dataOffset += partitionDataOffset + totalEncryptedSize

	// the data is laid out, write the table again with real offsets
	if _, err = stream.Seek(boot.FstOff.Offset(), io.SeekStart); err != nil {
		return err
	}
	if _, err = enc.WriteTo(stream); err != nil {
		return err
	}

	if _, err = stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err = binary.Write(stream, binary.BigEndian, boot); err != nil {
		return err
	}
	if err = stream.Flush(); err != nil {
		return err
	}
	h3, err := stream.TakeH3()
	if err != nil {
		return err
	}

	if _, err = window.Seek(hashTableOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err = window.Write(h3); err != nil {
		return err
	}
	header.GlobalHashTableOff = shifted(hashTableOffset)
	header.DataOff = shifted(partitionDataOffset)
	header.DataSize = shifted(totalSize)

	fakeSign(tmdBuf, h3, totalSize)
	if _, err = window.Seek(header.TMDOff.Offset(), io.SeekStart); err != nil {
		return err
	}
	if _, err = window.Write(tmdBuf); err != nil {
		return err
	}

	if _, err = window.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err = binary.Write(window, binary.BigEndian, &header); err != nil {
		return err
	}
	progress(100)
	return nil
}

// Finish writes the outer disc header, region info and partition
// table. All entries share the single table group at 0x40020.
func (b *DiscBuilder) Finish() error {
	if _, err := b.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(b.w, binary.BigEndian, &b.header); err != nil {
		return err
	}

	if _, err := b.w.Seek(regionOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err := b.w.Write(b.region[:]); err != nil {
		return err
	}

	if _, err := b.w.Seek(partitionTableOffset, io.SeekStart); err != nil {
		return err
	}
	table := struct {
		Count  uint32
		Offset ShiftedOffset
	}{
		Count:  uint32(len(b.parts)),
		Offset: shifted(partitionTableOffset + 0x20),
	}
	if err := binary.Write(b.w, binary.BigEndian, &table); err != nil {
		return err
	}

	if _, err := b.w.Seek(partitionTableOffset+0x20, io.SeekStart); err != nil {
		return err
	}
	for _, p := range b.parts {
		if err := binary.Write(b.w, binary.BigEndian, &p); err != nil {
			return err
		}
	}
	return nil
}

var zeros [fileDataAlignment]byte

func writeZeros(w io.Writer, count int64) error {
	for count > 0 {
		n := count
		if n > int64(len(zeros)) {
			n = int64(len(zeros))
		}
		if _, err := w.Write(zeros[:n]); err != nil {
			return err
		}
		count -= n
	}
	return nil
}

// copyDefinition feeds the builder from an already opened partition.
type copyDefinition struct {
	part *Partition
	bi2  []byte
}

func (c *copyDefinition) DiscHeader() (*DiscHeader, error) {
	boot := *c.part.BootHeader()
	return &boot, nil
}

func (c *copyDefinition) BI2() ([]byte, error) {
	if c.bi2 == nil {
		var err error
		if c.bi2, err = c.part.ReadBI2(); err != nil {
			return nil, err
		}
	}
	return c.bi2, nil
}

func (c *copyDefinition) Apploader() ([]byte, error) {
	return c.part.ReadApploader()
}

func (c *copyDefinition) FST() (*fst.Tree, error) {
	// the builder rewrites file offsets on the tree it is handed, so
	// FileData must keep resolving against an untouched copy
	return c.part.FST().Clone(), nil
}

func (c *copyDefinition) DOL() ([]byte, error) {
	return c.part.ReadDOL()
}

func (c *copyDefinition) FileData(path []string) ([]byte, uint32, error) {
	n := c.part.FST().Find(path)
	if n == nil || n.Dir {
		return nil, 0, &NotFoundError{Path: joinPath(path)}
	}
	buf := make([]byte, n.Length)
	if _, err := c.part.stream.ReadAt(buf, n.Offset); err != nil {
		return nil, 0, err
	}
	return buf, 0, nil
}

// BuildCopy reads the disc image at src and rebuilds its data
// partition into a fresh image at dst.
func BuildCopy(src, dst string, progress func(int)) (err error) {
	rc, err := OpenReader(src)
	if err != nil {
		return err
	}
	defer func() {
		err = multierror.Append(err, rc.Close()).ErrorOrNil()
	}()

	reader, err := NewIsoReader(rc)
	if err != nil {
		return err
	}
	entry, err := reader.DataPartition()
	if err != nil {
		return err
	}
	part, err := reader.OpenPartition(entry)
	if err != nil {
		return err
	}
	tmd, err := part.ReadTMD()
	if err != nil {
		return err
	}
	certs, err := part.ReadCertificates()
	if err != nil {
		return err
	}

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = multierror.Append(err, out.Close()).ErrorOrNil()
	}()

	builder := NewDiscBuilder(out, *reader.Header(), reader.Region())
	if err = builder.AddPartition(entry.Type, part.Header().Ticket, tmd, certs, &copyDefinition{part: part}, progress); err != nil {
		return err
	}
	return builder.Finish()
}
