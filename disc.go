package wiidisc

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bodgit/wiidisc/fst"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// An IsoReader reads the unencrypted shell of a disc image: the outer
// header, the region info and the partition table.
type IsoReader struct {
	r      Reader
	header DiscHeader
	region [32]byte
	parts  []PartitionEntry
}

// NewIsoReader reads the disc structures from r, which must stay open
// for as long as the reader and any partitions opened from it are in
// use.
func NewIsoReader(r Reader) (*IsoReader, error) {
	ir := &IsoReader{r: r}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &ir.header); err != nil {
		return nil, err
	}
	if !ir.header.IsWii() {
		return nil, errBadMagic
	}

	var err error
	if ir.parts, err = readPartitions(r); err != nil {
		return nil, err
	}

	if _, err = r.Seek(regionOffset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, ir.region[:]); err != nil {
		return nil, err
	}

	return ir, nil
}

// Header returns the outer disc header.
func (ir *IsoReader) Header() *DiscHeader {
	return &ir.header
}

// Region returns the 32-byte region info.
func (ir *IsoReader) Region() [32]byte {
	return ir.region
}

// Partitions returns the partition table entries.
func (ir *IsoReader) Partitions() []PartitionEntry {
	return ir.parts
}

// DataPartition returns the first Data partition.
func (ir *IsoReader) DataPartition() (PartitionEntry, error) {
	for _, e := range ir.parts {
		if e.Type == PartitionData {
			return e, nil
		}
	}
	return PartitionEntry{}, fmt.Errorf("wiidisc: no data partition")
}

// A Partition is one opened partition of a disc image: its unencrypted
// header plus a decrypting view of the data region with the boot header
// and file system table already parsed.
type Partition struct {
	iso    *IsoReader
	entry  PartitionEntry
	header PartitionHeader
	boot   DiscHeader
	table  *fst.Tree
	stream *CryptStream
}

// OpenPartition opens the partition described by e. Only one partition
// should be read at a time; they share the underlying stream.
func (ir *IsoReader) OpenPartition(e PartitionEntry) (*Partition, error) {
	p := &Partition{iso: ir, entry: e}

	if _, err := ir.r.Seek(e.Offset(), io.SeekStart); err != nil {
		return nil, err
	}
	if err := binary.Read(ir.r, binary.BigEndian, &p.header); err != nil {
		return nil, err
	}

	key, err := p.header.Ticket.DecryptedTitleKey()
	if err != nil {
		return nil, err
	}

	dataSize := p.header.DataSize.Offset()
	if p.stream, err = NewCryptReader(ir.r, e.Offset()+p.header.DataOff.Offset(), key, (dataSize+GroupDataSize-1)/GroupDataSize); err != nil {
		return nil, err
	}

	if err = binary.Read(p.stream, binary.BigEndian, &p.boot); err != nil {
		return nil, err
	}

	if p.table, err = fst.Read(p.stream, p.boot.FstOff.Offset()); err != nil {
		return nil, err
	}

	return p, nil
}

// Header returns the unencrypted partition header.
func (p *Partition) Header() *PartitionHeader {
	return &p.header
}

// Offset returns the partition origin within the outer image.
func (p *Partition) Offset() int64 {
	return p.entry.Offset()
}

// Type returns the partition type.
func (p *Partition) Type() PartitionType {
	return p.entry.Type
}

// BootHeader returns the disc header found inside the encrypted data
// region.
func (p *Partition) BootHeader() *DiscHeader {
	return &p.boot
}

// FST returns the partition's file system table.
func (p *Partition) FST() *fst.Tree {
	return p.table
}

// ReadTMD reads the partition's title metadata.
func (p *Partition) ReadTMD() (*TMD, error) {
	if _, err := p.iso.r.Seek(p.Offset()+p.header.TMDOff.Offset(), io.SeekStart); err != nil {
		return nil, err
	}
	return ReadTMD(p.iso.r)
}

// ReadCertificates reads the partition's certificate chain.
func (p *Partition) ReadCertificates() ([3]Certificate, error) {
	if _, err := p.iso.r.Seek(p.Offset()+p.header.CertChainOff.Offset(), io.SeekStart); err != nil {
		return [3]Certificate{}, err
	}
	return readCertificateChain(p.iso.r)
}

// ReadH3 reads the partition's H3 table from the unencrypted region.
func (p *Partition) ReadH3() ([]byte, error) {
	if _, err := p.iso.r.Seek(p.Offset()+p.header.GlobalHashTableOff.Offset(), io.SeekStart); err != nil {
		return nil, err
	}
	h3 := make([]byte, h3Size)
	if _, err := io.ReadFull(p.iso.r, h3); err != nil {
		return nil, err
	}
	return h3, nil
}

const (
	bi2Offset       = 0x440
	bi2Size         = 0x2000
	apploaderOffset = 0x2440
)

// ReadBI2 reads the system configuration region.
func (p *Partition) ReadBI2() ([]byte, error) {
	buf := make([]byte, bi2Size)
	if _, err := p.stream.ReadAt(buf, bi2Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadApploader reads the apploader image, sized from its header.
func (p *Partition) ReadApploader() ([]byte, error) {
	var header ApploaderHeader
	hdr := make([]byte, apploaderHeaderSize)
	if _, err := p.stream.ReadAt(hdr, apploaderOffset); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(hdr), binary.BigEndian, &header); err != nil {
		return nil, err
	}
	buf := make([]byte, int64(apploaderHeaderSize)+int64(header.Size1)+int64(header.Size2))
	if _, err := p.stream.ReadAt(buf, apploaderOffset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadDOL reads the main executable, sized from its section table.
func (p *Partition) ReadDOL() ([]byte, error) {
	off := p.boot.DolOff.Offset()
	hdr := make([]byte, dolHeaderSize)
	if _, err := p.stream.ReadAt(hdr, off); err != nil {
		return nil, err
	}
	var header DOLHeader
	if err := binary.Read(bytes.NewReader(hdr), binary.BigEndian, &header); err != nil {
		return nil, err
	}
	size, err := header.ImageSize()
	if err != nil {
		return nil, fmt.Errorf("wiidisc: DOL at offset %#x: %w", off, err)
	}
	buf := make([]byte, size)
	if _, err := p.stream.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFST reads the raw encoded file system table.
func (p *Partition) readFST() ([]byte, error) {
	buf := make([]byte, p.boot.FstSz.Offset())
	if _, err := p.stream.ReadAt(buf, p.boot.FstOff.Offset()); err != nil {
		return nil, err
	}
	return buf, nil
}

// OpenFile returns a bounded reader over the named file's data, or a
// NotFoundError if the path does not resolve to a file.
func (p *Partition) OpenFile(path string) (io.ReadSeeker, error) {
	n := p.table.FindPath(path)
	if n == nil || n.Dir {
		return nil, &NotFoundError{Path: path}
	}
	return NewWindow(p.stream, n.Offset, int64(n.Length)), nil
}

// ReadFile returns the named file's data.
func (p *Partition) ReadFile(path string) ([]byte, error) {
	n := p.table.FindPath(path)
	if n == nil || n.Dir {
		return nil, &NotFoundError{Path: path}
	}
	buf := make([]byte, n.Length)
	if _, err := p.stream.ReadAt(buf, n.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Verify checks every group of the data region against the hash tree
// and the H3 table. The optional progress callback receives
// percentages from 0 to 100.
func (p *Partition) Verify(progress func(int)) error {
	if progress == nil {
		progress = func(int) {}
	}
	h3, err := p.ReadH3()
	if err != nil {
		return err
	}
	key, err := p.header.Ticket.DecryptedTitleKey()
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return err
	}
	groups := (p.header.DataSize.Offset() + GroupDataSize - 1) / GroupDataSize
	buf := make([]byte, GroupSize)
	dataOffset := p.Offset() + p.header.DataOff.Offset()
	progress(0)
	for g := int64(0); g < groups; g++ {
		if _, err = p.iso.r.Seek(dataOffset+g*GroupSize, io.SeekStart); err != nil {
			return err
		}
		if _, err = io.ReadFull(p.iso.r, buf); err != nil {
			return err
		}
		if err = decryptVerifyGroup(buf, block, h3[20*g:20*g+20]); err != nil {
			return fmt.Errorf("wiidisc: group %d: %w", g, err)
		}
		progress(int((g + 1) * 100 / groups))
	}
	return nil
}

// ExtractSystemFiles writes boot.bin, bi2.bin, apploader.img, main.dol
// and fst.bin to a sys directory below dir.
func (p *Partition) ExtractSystemFiles(dir string) error {
	sys := filepath.Join(dir, "sys")
	if err := fs.MkdirAll(sys, os.ModePerm|os.ModeDir); err != nil {
		return err
	}

	f, err := fs.Create(filepath.Join(sys, "boot.bin"))
	if err != nil {
		return err
	}
	if err = binary.Write(f, binary.BigEndian, &p.boot); err != nil {
		return multierror.Append(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}

	for _, file := range []struct {
		name string
		read func() ([]byte, error)
	}{
		{"bi2.bin", p.ReadBI2},
		{"apploader.img", p.ReadApploader},
		{"main.dol", p.ReadDOL},
		{"fst.bin", p.readFST},
	} {
		data, err := file.read()
		if err != nil {
			return err
		}
		if err = afero.WriteFile(fs, filepath.Join(sys, file.name), data, os.ModePerm); err != nil {
			return err
		}
	}

	return nil
}

// Extract writes the partition's system files and the whole file system
// tree below dir.
func (p *Partition) Extract(dir string) error {
	if err := p.ExtractSystemFiles(dir); err != nil {
		return err
	}
	files := filepath.Join(dir, "files")
	return p.table.Walk(func(path []string, n *fst.Node) error {
		target := filepath.Join(append([]string{files}, path...)...)
		if n.Dir {
			return fs.MkdirAll(target, os.ModePerm|os.ModeDir)
		}
		if err := fs.MkdirAll(filepath.Dir(target), os.ModePerm|os.ModeDir); err != nil {
			return err
		}
		w, err := fs.Create(target)
		if err != nil {
			return err
		}
		if _, err = io.Copy(w, NewWindow(p.stream, n.Offset, int64(n.Length))); err != nil {
			return multierror.Append(err, w.Close())
		}
		return w.Close()
	})
}
