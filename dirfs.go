package wiidisc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bodgit/wiidisc/fst"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// A NotFoundError reports a required file that does not exist, either
// on disk while building or inside a partition while reading.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("wiidisc: required file not found: %s", e.Path)
}

// A DuplicateNameError reports two directory entries whose names
// collide under the file system table's case-insensitive order.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("wiidisc: duplicate filename: %s", e.Name)
}

// A FileTooLargeError reports a file whose size cannot be represented
// by the 32-bit length field of a file system table node.
type FileTooLargeError struct {
	Path string
	Size int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("wiidisc: file %s is too large, has %d bytes", e.Path, e.Size)
}

func joinPath(path []string) string {
	return strings.Join(path, "/")
}

// BuildFSTFromDirectory scans the directory tree rooted at dir and
// returns a file system table mirroring it, with file lengths filled in
// and offsets left at zero.
func BuildFSTFromDirectory(dir string) (*fst.Tree, error) {
	tree := &fst.Tree{}
	if err := scanDirectory(dir, nil, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func scanDirectory(dir string, path []string, tree *fst.Tree) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if err := scanDirectory(filepath.Join(dir, name), append(path, name), tree); err != nil {
				return err
			}
			continue
		}
		if entry.Size() >= 1<<32 {
			return &FileTooLargeError{Path: filepath.Join(dir, name), Size: entry.Size()}
		}
		prev, err := tree.Insert(path, fst.NewFile(name, 0, uint32(entry.Size())))
		if err != nil || prev != nil {
			return &DuplicateNameError{Name: name}
		}
	}
	return nil
}

// openExisting opens path, mapping a missing file to a NotFoundError.
func openExisting(path string) (afero.File, error) {
	if ok, err := afero.Exists(fs, path); err != nil {
		return nil, err
	} else if !ok {
		return nil, &NotFoundError{Path: path}
	}
	return fs.Open(path)
}

func readExisting(path string) ([]byte, error) {
	f, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadAll(f)
	if err != nil {
		return nil, multierror.Append(err, f.Close())
	}
	return b, f.Close()
}

// A DirDefinition feeds the builder from an extracted partition
// directory: system files below sys, file data below files.
type DirDefinition struct {
	base string
	tree *fst.Tree
}

// NewDirDefinition scans base/files and returns a definition rooted at
// base.
func NewDirDefinition(base string) (*DirDefinition, error) {
	tree, err := BuildFSTFromDirectory(filepath.Join(base, "files"))
	if err != nil {
		return nil, err
	}
	return &DirDefinition{base: base, tree: tree}, nil
}

// DiscHeader reads sys/boot.bin.
func (d *DirDefinition) DiscHeader() (*DiscHeader, error) {
	f, err := openExisting(filepath.Join(d.base, "sys", "boot.bin"))
	if err != nil {
		return nil, err
	}
	header := new(DiscHeader)
	if err = binary.Read(f, binary.BigEndian, header); err != nil {
		return nil, multierror.Append(err, f.Close())
	}
	return header, f.Close()
}

// BI2 reads sys/bi2.bin.
func (d *DirDefinition) BI2() ([]byte, error) {
	return readExisting(filepath.Join(d.base, "sys", "bi2.bin"))
}

// Apploader reads sys/apploader.img.
func (d *DirDefinition) Apploader() ([]byte, error) {
	return readExisting(filepath.Join(d.base, "sys", "apploader.img"))
}

// FST returns the scanned tree.
func (d *DirDefinition) FST() (*fst.Tree, error) {
	return d.tree, nil
}

// DOL reads sys/main.dol.
func (d *DirDefinition) DOL() ([]byte, error) {
	return readExisting(filepath.Join(d.base, "sys", "main.dol"))
}

// FileData reads the named file below files.
func (d *DirDefinition) FileData(path []string) ([]byte, uint32, error) {
	data, err := readExisting(filepath.Join(append([]string{d.base, "files"}, path...)...))
	if err != nil {
		return nil, 0, err
	}
	return data, 0, nil
}

// BuildFromDirectory rebuilds a disc image from a directory tree laid
// out as DATA/sys, DATA/disc and DATA/files, with ticket.bin, tmd.bin
// and cert.bin below DATA. Extract writes only the sys and files parts
// of this layout; disc/region.bin, ticket.bin, tmd.bin and cert.bin are
// not written by it.
func BuildFromDirectory(dir string, dst io.ReadWriteSeeker, progress func(int)) error {
	base := filepath.Join(dir, "DATA")

	def, err := NewDirDefinition(base)
	if err != nil {
		return err
	}

	header, err := def.DiscHeader()
	if err != nil {
		return err
	}
	header.DisableDiscEnc = 0
	header.DisableHashVerification = 0

	var region [32]byte
	f, err := openExisting(filepath.Join(base, "disc", "region.bin"))
	if err != nil {
		return err
	}
	if _, err = io.ReadFull(f, region[:]); err != nil {
		return multierror.Append(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}

	var ticket Ticket
	if f, err = openExisting(filepath.Join(base, "ticket.bin")); err != nil {
		return err
	}
	if err = binary.Read(f, binary.BigEndian, &ticket); err != nil {
		return multierror.Append(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}

	tmdData, err := readExisting(filepath.Join(base, "tmd.bin"))
	if err != nil {
		return err
	}
	tmd, err := ReadTMD(bytes.NewReader(tmdData))
	if err != nil {
		return err
	}

	certData, err := readExisting(filepath.Join(base, "cert.bin"))
	if err != nil {
		return err
	}
	certs, err := readCertificateChain(bytes.NewReader(certData))
	if err != nil {
		return err
	}

	builder := NewDiscBuilder(dst, *header, region)
	if err = builder.AddPartition(PartitionData, ticket, tmd, certs, def, progress); err != nil {
		return err
	}
	return builder.Finish()
}
