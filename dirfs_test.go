package wiidisc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func useMemFs(t *testing.T) {
	t.Helper()
	oldFs := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = oldFs })
}

func TestBuildFSTFromDirectory(t *testing.T) {
	useMemFs(t)

	for name, data := range map[string][]byte{
		"/files/opening.bnr":    bytes.Repeat([]byte{1}, 64),
		"/files/data/stage.arc": bytes.Repeat([]byte{2}, 128),
		"/files/data/text.arc":  bytes.Repeat([]byte{3}, 32),
	} {
		if err := afero.WriteFile(fs, name, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tree, err := BuildFSTFromDirectory("/files")
	if err != nil {
		t.Fatal(err)
	}
	if n := tree.FindPath("opening.bnr"); n == nil || n.Length != 64 {
		t.Fatalf("opening.bnr = %+v", n)
	}
	if n := tree.FindPath("data/stage.arc"); n == nil || n.Length != 128 {
		t.Fatalf("data/stage.arc = %+v", n)
	}
	if got := tree.FileCount(); got != 3 {
		t.Fatalf("FileCount() = %d, want 3", got)
	}
}

func TestBuildFSTCaseCollision(t *testing.T) {
	useMemFs(t)

	for _, name := range []string{"/files/a.bin", "/files/A.bin"} {
		if err := afero.WriteFile(fs, name, []byte{1}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := BuildFSTFromDirectory("/files")
	var dup *DuplicateNameError
	if !errors.As(err, &dup) {
		t.Fatalf("BuildFSTFromDirectory() error = %v, want DuplicateNameError", err)
	}
}

func TestDirDefinitionMissingFile(t *testing.T) {
	useMemFs(t)

	if err := fs.MkdirAll("/part/files", 0o755); err != nil {
		t.Fatal(err)
	}
	def, err := NewDirDefinition("/part")
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.DOL()
	var missing *NotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("DOL() error = %v, want NotFoundError", err)
	}
	if missing.Path != filepath.Join("/part", "sys", "main.dol") {
		t.Fatalf("error names %q", missing.Path)
	}
}

func TestExtractAndBuildFromDirectory(t *testing.T) {
	useMemFs(t)

	def := newTestDefinition(t)
	img := buildTestImage(t, def, nil)

	d, err := NewIsoReader(img)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := d.DataPartition()
	if err != nil {
		t.Fatal(err)
	}
	p, err := d.OpenPartition(entry)
	if err != nil {
		t.Fatal(err)
	}

	// extract to the layout BuildFromDirectory expects, then add the
	// clear-area pieces it needs
	if err = p.Extract("/out/DATA"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"/out/DATA/sys/boot.bin",
		"/out/DATA/sys/bi2.bin",
		"/out/DATA/sys/apploader.img",
		"/out/DATA/sys/main.dol",
		"/out/DATA/sys/fst.bin",
		"/out/DATA/files/a.bin",
		"/out/DATA/files/dir/b.bin",
	} {
		if ok, _ := afero.Exists(fs, name); !ok {
			t.Fatalf("%s missing after Extract()", name)
		}
	}

	region := d.Region()
	if err = afero.WriteFile(fs, "/out/DATA/disc/region.bin", region[:], 0o644); err != nil {
		t.Fatal(err)
	}
	ticket := p.Header().Ticket
	b := new(bytes.Buffer)
	if err = binary.Write(b, binary.BigEndian, &ticket); err != nil {
		t.Fatal(err)
	}
	if err = afero.WriteFile(fs, "/out/DATA/ticket.bin", b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	tmd, err := p.ReadTMD()
	if err != nil {
		t.Fatal(err)
	}
	tmdBuf, err := tmd.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err = afero.WriteFile(fs, "/out/DATA/tmd.bin", tmdBuf, 0o644); err != nil {
		t.Fatal(err)
	}
	certs, err := p.ReadCertificates()
	if err != nil {
		t.Fatal(err)
	}
	b.Reset()
	if _, err = writeCertificateChain(b, certs); err != nil {
		t.Fatal(err)
	}
	if err = afero.WriteFile(fs, "/out/DATA/cert.bin", b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	rebuilt := &memFile{}
	if err = BuildFromDirectory("/out", rebuilt, nil); err != nil {
		t.Fatal(err)
	}

	d2, err := NewIsoReader(rebuilt)
	if err != nil {
		t.Fatal(err)
	}
	entry2, err := d2.DataPartition()
	if err != nil {
		t.Fatal(err)
	}
	p2, err := d2.OpenPartition(entry2)
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range def.files {
		got, err := p2.ReadFile(name)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("file %s does not survive the rebuild", name)
		}
	}
	if err = p2.Verify(nil); err != nil {
		t.Fatal(err)
	}
}
