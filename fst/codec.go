package fst

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// rawNode is the 12-byte on-disc form of a node. The top byte of
// TypeAndNameOffset is 1 for a directory, the low 24 bits index the
// name pool. For files, Offset is the data offset shifted right by two
// and Length the byte length; for directories, Offset is the parent
// node index and Length the exclusive end index of the subtree within
// the flat array.
type rawNode struct {
	TypeAndNameOffset uint32
	Offset            uint32
	Length            uint32
}

const rawNodeSize = 12

func (n rawNode) isDir() bool {
	return n.TypeAndNameOffset>>24 != 0
}

func (n rawNode) nameOffset() uint32 {
	return n.TypeAndNameOffset & 0xffffff
}

// An InvalidNameError reports a name that cannot be represented in
// shift-JIS.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("fst: invalid shiftjis: %q", e.Name)
}

// decodeName converts a shift-JIS name from the pool to UTF-8.
func decodeName(raw []byte) (string, error) {
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &InvalidNameError{Name: string(raw)}
	}
	// the decoder substitutes U+FFFD rather than failing; shift-JIS
	// cannot encode that rune itself, so its presence means bad input
	s := string(decoded)
	if strings.ContainsRune(s, utf8.RuneError) {
		return "", &InvalidNameError{Name: s}
	}
	return s, nil
}

// encodeName converts a UTF-8 name to shift-JIS.
func encodeName(name string) ([]byte, error) {
	encoded, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, &InvalidNameError{Name: name}
	}
	return encoded, nil
}

// readName reads the NUL-terminated name at offset.
func readName(r io.ReadSeeker, offset int64) (string, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	raw, err := bufio.NewReader(r).ReadBytes(0)
	if err != nil {
		return "", err
	}
	return decodeName(raw[:len(raw)-1])
}

// Read decodes the file system table found at offset within r.
func Read(r io.ReadSeeker, offset int64) (*Tree, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	var root rawNode
	if err := binary.Read(r, binary.BigEndian, &root); err != nil {
		return nil, err
	}
	if !root.isDir() || root.Offset != 0 || root.Length == 0 || root.Length > 1<<20 {
		return nil, fmt.Errorf("fst: invalid root node at offset %#x", offset)
	}
	nodes := make([]rawNode, root.Length)
	nodes[0] = root
	if err := binary.Read(r, binary.BigEndian, nodes[1:]); err != nil {
		return nil, err
	}
	nameOffset := offset + int64(len(nodes))*rawNodeSize

	cur := uint32(1)
	entries, err := decodeNodes(r, nameOffset, nodes, root.Length, &cur)
	if err != nil {
		return nil, err
	}
	return &Tree{Entries: entries}, nil
}

// decodeNodes consumes raw nodes from the shared cursor until the
// exclusive subtree end, recursing into directories.
func decodeNodes(r io.ReadSeeker, nameOffset int64, raw []rawNode, end uint32, cur *uint32) ([]*Node, error) {
	var nodes []*Node
	for *cur < end {
		n := raw[*cur]
		if n.isDir() && n.Length > uint32(len(raw)) {
			return nil, fmt.Errorf("fst: node %d exceeds table bounds", *cur)
		}
		name, err := readName(r, nameOffset+int64(n.nameOffset()))
		if err != nil {
			return nil, err
		}
		*cur++
		if n.isDir() {
			children, err := decodeNodes(r, nameOffset, raw, n.Length, cur)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &Node{Name: name, Dir: true, Children: children})
		} else {
			nodes = append(nodes, NewFile(name, int64(n.Offset)<<2, n.Length))
		}
	}
	return nodes, nil
}

// An Encoder holds a tree together with its pre-built shift-JIS name
// pool, ready to be written. File offsets are usually placeholders on
// the first write; WalkFiles fills in the real values once the data has
// been laid out, after which the table is written again.
type Encoder struct {
	tree        *Tree
	nameOffsets []uint32
	pool        []byte
}

// NewEncoder builds the name pool for the tree, validating that every
// name is representable in shift-JIS. The root contributes a single NUL
// byte at offset zero.
func NewEncoder(t *Tree) (*Encoder, error) {
	e := &Encoder{
		tree:        t,
		nameOffsets: make([]uint32, 1, t.nodeCount()+1),
		pool:        []byte{0},
	}
	if err := e.appendNames(t.Entries); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Encoder) appendNames(nodes []*Node) error {
	for _, n := range nodes {
		encoded, err := encodeName(n.Name)
		if err != nil {
			return err
		}
		e.nameOffsets = append(e.nameOffsets, uint32(len(e.pool)))
		e.pool = append(e.pool, encoded...)
		e.pool = append(e.pool, 0)
		if n.Dir {
			if err := e.appendNames(n.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// FileCount returns the number of file nodes to be written.
func (e *Encoder) FileCount() int {
	return e.tree.FileCount()
}

// WalkFiles visits every file node in the emission order, passing the
// full path and mutable offset and length.
func (e *Encoder) WalkFiles(fn func(path []string, offset *int64, length *uint32) error) error {
	path := make([]string, 0, 20)
	return walkFiles(e.tree.Entries, path, fn)
}

func walkFiles(nodes []*Node, path []string, fn func(path []string, offset *int64, length *uint32) error) error {
	for _, n := range nodes {
		path := append(path, n.Name)
		if n.Dir {
			if err := walkFiles(n.Children, path, fn); err != nil {
				return err
			}
		} else if err := fn(path, &n.Offset, &n.Length); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the encoded size of the table, node array plus name
// pool.
func (e *Encoder) Size() int64 {
	return int64(len(e.nameOffsets))*rawNodeSize + int64(len(e.pool))
}

// WriteTo emits the flat node array in depth-first pre-order followed
// by the name pool.
func (e *Encoder) WriteTo(w io.Writer) (int64, error) {
	nodes := make([]rawNode, 1, len(e.nameOffsets))
	idx := uint32(1)
	e.appendNodes(e.tree.Entries, &nodes, &idx)
	nodes[0] = rawNode{
		TypeAndNameOffset: 1 << 24,
		Offset:            0,
		Length:            idx,
	}
	b := new(bytes.Buffer)
	b.Grow(len(nodes)*rawNodeSize + len(e.pool))
	if err := binary.Write(b, binary.BigEndian, nodes); err != nil {
		return 0, err
	}
	b.Write(e.pool)
	return b.WriteTo(w)
}

func (e *Encoder) appendNodes(entries []*Node, nodes *[]rawNode, idx *uint32) {
	// the parent of every node at this level; the root is index 0
	parent := *idx - 1
	for _, n := range entries {
		this := *idx
		nameOffset := e.nameOffsets[this]
		*idx++
		if n.Dir {
			*nodes = append(*nodes, rawNode{
				TypeAndNameOffset: 1<<24 | nameOffset,
				Offset:            parent,
			})
			e.appendNodes(n.Children, nodes, idx)
			// patch the exclusive end of the subtree
			(*nodes)[this].Length = *idx
		} else {
			*nodes = append(*nodes, rawNode{
				TypeAndNameOffset: nameOffset,
				Offset:            uint32(n.Offset >> 2),
				Length:            n.Length,
			})
		}
	}
}
