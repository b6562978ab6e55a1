/*
Package fst implements the file system table found inside the data
region of a disc partition: an in-memory directory tree and the codec
for its flat on-disc form, an array of sibling-linked nodes followed by
a pool of NUL-terminated shift-JIS names.
*/
package fst

import (
	"errors"
	"sort"
	"strings"
)

// A Node is one entry of the file system table, either a file with an
// offset and length within the partition, or a directory owning its
// children.
type Node struct {
	Name string
	Dir  bool
	// Offset is the byte offset of the file data within the partition;
	// unused for directories
	Offset int64
	// Length is the byte length of the file data; unused for
	// directories
	Length uint32
	// Children holds a directory's entries, kept sorted
	Children []*Node
}

// NewFile returns a file node.
func NewFile(name string, offset int64, length uint32) *Node {
	return &Node{Name: name, Offset: offset, Length: length}
}

// NewDir returns an empty directory node.
func NewDir(name string) *Node {
	return &Node{Name: name, Dir: true}
}

// Clone returns a deep copy of the node and its children.
func (n *Node) Clone() *Node {
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// ErrNotDirectory is returned when a path component resolves to a file.
var ErrNotDirectory = errors.New("fst: path component is not a directory")

// compareNames orders two names byte-wise after ASCII-lowercasing, with
// an implicit trailing NUL on both, so "a" < "a.ext" < "a0" and "a"
// compares equal to "A". This is the sibling order kept by every
// directory.
func compareNames(a, b string) int {
	for i := 0; i <= len(a) && i <= len(b); i++ {
		var ca, cb byte
		if i < len(a) {
			ca = lower(a[i])
		}
		if i < len(b) {
			cb = lower(b[i])
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// A Tree is the hierarchical form of a file system table. The zero
// value is an empty tree.
type Tree struct {
	Entries []*Node
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	c := &Tree{Entries: make([]*Node, len(t.Entries))}
	for i, n := range t.Entries {
		c.Entries[i] = n.Clone()
	}
	return c
}

// Find descends the tree along the given name segments, matching names
// exactly. It returns nil if any segment does not resolve or descent
// would pass through a file.
func (t *Tree) Find(path []string) *Node {
	return findNode(t.Entries, path)
}

// FindPath is Find with a slash-separated path; empty segments are
// skipped.
func (t *Tree) FindPath(p string) *Node {
	return t.Find(splitPath(p))
}

func splitPath(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func findNode(nodes []*Node, path []string) *Node {
	if len(path) == 0 {
		return nil
	}
	cur := findChild(nodes, path[0])
	for _, part := range path[1:] {
		if cur == nil || !cur.Dir {
			return nil
		}
		cur = findChild(cur.Children, part)
	}
	return cur
}

func findChild(nodes []*Node, name string) *Node {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Insert places node below the directory named by path, creating
// intermediate directories as needed. Siblings stay sorted; when a
// sibling with an equal name already exists it is replaced and the
// previous node returned. Insert fails if a path component resolves to
// a file.
func (t *Tree) Insert(path []string, node *Node) (*Node, error) {
	nodes := &t.Entries
	for _, part := range path {
		dir, err := childDir(nodes, part)
		if err != nil {
			return nil, err
		}
		nodes = &dir.Children
	}
	i, found := search(*nodes, node.Name)
	if found {
		prev := (*nodes)[i]
		(*nodes)[i] = node
		return prev, nil
	}
	*nodes = append(*nodes, nil)
	copy((*nodes)[i+1:], (*nodes)[i:])
	(*nodes)[i] = node
	return nil, nil
}

// InsertPath is Insert with a slash-separated path.
func (t *Tree) InsertPath(p string, node *Node) (*Node, error) {
	return t.Insert(splitPath(p), node)
}

// childDir resolves the named child as a directory, creating it in
// sorted position if absent.
func childDir(nodes *[]*Node, name string) (*Node, error) {
	i, found := search(*nodes, name)
	if found {
		n := (*nodes)[i]
		if !n.Dir {
			return nil, ErrNotDirectory
		}
		return n, nil
	}
	n := NewDir(name)
	*nodes = append(*nodes, nil)
	copy((*nodes)[i+1:], (*nodes)[i:])
	(*nodes)[i] = n
	return n, nil
}

// search binary-searches sorted siblings under the case-insensitive
// order, returning the match or insertion index.
func search(nodes []*Node, name string) (int, bool) {
	i := sort.Search(len(nodes), func(i int) bool {
		return compareNames(nodes[i].Name, name) >= 0
	})
	return i, i < len(nodes) && compareNames(nodes[i].Name, name) == 0
}

// Remove detaches and returns the node at the given path, or nil if it
// does not resolve.
func (t *Tree) Remove(path []string) *Node {
	if len(path) == 0 {
		return nil
	}
	nodes := &t.Entries
	for _, part := range path[:len(path)-1] {
		n := findChild(*nodes, part)
		if n == nil || !n.Dir {
			return nil
		}
		nodes = &n.Children
	}
	name := path[len(path)-1]
	for i, n := range *nodes {
		if n.Name == name {
			*nodes = append((*nodes)[:i], (*nodes)[i+1:]...)
			return n
		}
	}
	return nil
}

// RemovePath is Remove with a slash-separated path.
func (t *Tree) RemovePath(p string) *Node {
	return t.Remove(splitPath(p))
}

// FixOrdering re-sorts every directory's children under the
// case-insensitive order. Trees built through Insert are already
// sorted; trees assembled by hand are not.
func (t *Tree) FixOrdering() {
	fixOrdering(t.Entries)
}

func fixOrdering(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return compareNames(nodes[i].Name, nodes[j].Name) < 0
	})
	for _, n := range nodes {
		if n.Dir {
			fixOrdering(n.Children)
		}
	}
}

// Walk visits every node in pre-order, passing the name segments
// leading to and including the current node. The callback may rename
// the current node; the path is refreshed before descending. Returning
// an error aborts the walk.
func (t *Tree) Walk(fn func(path []string, node *Node) error) error {
	path := make([]string, 0, 20)
	return walk(t.Entries, path, fn)
}

func walk(nodes []*Node, path []string, fn func(path []string, node *Node) error) error {
	for _, n := range nodes {
		path := append(path, n.Name)
		if err := fn(path, n); err != nil {
			return err
		}
		// pick up a rename before descending
		path[len(path)-1] = n.Name
		if n.Dir {
			if err := walk(n.Children, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// FileCount returns the number of file nodes in the tree.
func (t *Tree) FileCount() int {
	return fileCount(t.Entries)
}

func fileCount(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		if n.Dir {
			count += fileCount(n.Children)
		} else {
			count++
		}
	}
	return count
}

// nodeCount returns the number of nodes in the tree, directories
// included, not counting the implicit root.
func (t *Tree) nodeCount() int {
	return nodeCount(t.Entries)
}

func nodeCount(nodes []*Node) int {
	count := len(nodes)
	for _, n := range nodes {
		if n.Dir {
			count += nodeCount(n.Children)
		}
	}
	return count
}
