package fst

import (
	"testing"
)

func testTree() *Tree {
	return &Tree{
		Entries: []*Node{
			{
				Name: "directory",
				Dir:  true,
				Children: []*Node{
					NewDir("moar directories"),
					NewFile("moar files", 0, 0),
				},
			},
			NewFile("file1", 0, 0),
		},
	}
}

func TestCompareNames(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "A", 0},
		{"foo", "foo", 0},
		{"a", "a.ext", -1},
		{"a.ext", "a0", -1},
		{"a", "a0", -1},
		{"foo", "foo.bar", -1},
		{"B", "a", 1},
		{"", "a", -1},
	}
	for _, tt := range tests {
		if got := compareNames(tt.a, tt.b); got != tt.want {
			t.Errorf("compareNames(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := compareNames(tt.b, tt.a); got != -tt.want {
			t.Errorf("compareNames(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestInsert(t *testing.T) {
	tree := &Tree{}

	for _, p := range []string{"test/path2", "test/path", "test/path5"} {
		if prev, err := tree.InsertPath(p, NewFile("file.arc", 0, 0)); err != nil || prev != nil {
			t.Fatalf("InsertPath(%q) = %v, %v", p, prev, err)
		}
	}
	if prev, err := tree.InsertPath("test/path5", NewFile("file.arc", 0, 0)); err != nil || prev == nil {
		t.Fatalf("duplicate InsertPath() = %v, %v, want replaced node", prev, err)
	}
	if prev, err := tree.InsertPath("", NewFile("file.arc", 0, 0)); err != nil || prev != nil {
		t.Fatalf("root InsertPath() = %v, %v", prev, err)
	}
	if prev, err := tree.InsertPath("", NewFile("file.arc", 0, 0)); err != nil || prev == nil {
		t.Fatalf("duplicate root InsertPath() = %v, %v, want replaced node", prev, err)
	}
	if _, err := tree.InsertPath("file.arc", NewFile("test", 0, 0)); err != ErrNotDirectory {
		t.Fatalf("InsertPath() through a file = %v, want ErrNotDirectory", err)
	}

	if tree.FindPath("file.arc") == nil {
		t.Fatal("FindPath(file.arc) = nil")
	}
	dir := tree.FindPath("test")
	if dir == nil || !dir.Dir {
		t.Fatal("FindPath(test) is not a directory")
	}
	for i, want := range []string{"path", "path2", "path5"} {
		if got := dir.Children[i].Name; got != want {
			t.Errorf("children[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestInsertCaseInsensitiveReplace(t *testing.T) {
	tree := &Tree{}
	if _, err := tree.Insert(nil, NewFile("a", 0, 0)); err != nil {
		t.Fatal(err)
	}
	prev, err := tree.Insert(nil, NewFile("A", 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if prev == nil || prev.Name != "a" {
		t.Fatalf("Insert(A) replaced %v, want the existing node named \"a\"", prev)
	}
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "A" {
		t.Fatalf("entries = %v, want the single replacement node", tree.Entries)
	}
}

func TestFixOrdering(t *testing.T) {
	tree := &Tree{
		Entries: []*Node{
			NewFile("B", 0, 0),
			NewFile("a0", 0, 0),
			NewFile("A.txt", 0, 0),
			NewFile("a", 0, 0),
		},
	}
	tree.FixOrdering()
	want := []string{"a", "A.txt", "a0", "B"}
	for i, n := range tree.Entries {
		if n.Name != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, n.Name, want[i])
		}
	}
	for i := 0; i < len(tree.Entries)-1; i++ {
		if compareNames(tree.Entries[i].Name, tree.Entries[i+1].Name) >= 0 {
			t.Errorf("entries %q and %q are out of order", tree.Entries[i].Name, tree.Entries[i+1].Name)
		}
	}
}

func TestRemove(t *testing.T) {
	tree := testTree()
	if n := tree.RemovePath("directory/moar directories"); n == nil || n.Name != "moar directories" {
		t.Fatalf("RemovePath() = %v", n)
	}
	if n := tree.RemovePath("directory"); n == nil || n.Name != "directory" {
		t.Fatalf("RemovePath() = %v", n)
	}
	if n := tree.RemovePath("file1"); n == nil || n.Name != "file1" {
		t.Fatalf("RemovePath() = %v", n)
	}
	if len(tree.Entries) != 0 {
		t.Fatalf("entries = %v, want empty", tree.Entries)
	}
}

func TestFind(t *testing.T) {
	tree := testTree()
	if n := tree.FindPath("directory/moar directories"); n == nil || !n.Dir {
		t.Fatalf("FindPath() = %v", n)
	}
	if n := tree.FindPath("directory"); n == nil || !n.Dir {
		t.Fatalf("FindPath() = %v", n)
	}
	if n := tree.FindPath("file1"); n == nil || n.Dir {
		t.Fatalf("FindPath() = %v", n)
	}
	if n := tree.FindPath("file1/nested"); n != nil {
		t.Fatalf("FindPath() through a file = %v, want nil", n)
	}
	if n := tree.FindPath("missing"); n != nil {
		t.Fatalf("FindPath(missing) = %v, want nil", n)
	}
}

func TestWalkRename(t *testing.T) {
	tree := testTree()
	var paths [][]string
	err := tree.Walk(func(path []string, n *Node) error {
		if n.Name == "directory" {
			n.Name = "renamed"
		}
		cp := make([]string, len(path))
		copy(cp, path)
		paths = append(paths, cp)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"directory"},
		{"renamed", "moar directories"},
		{"renamed", "moar files"},
		{"file1"},
	}
	if len(paths) != len(want) {
		t.Fatalf("visited %d nodes, want %d", len(paths), len(want))
	}
	for i := range want {
		if len(paths[i]) != len(want[i]) {
			t.Fatalf("paths[%d] = %v, want %v", i, paths[i], want[i])
		}
		for j := range want[i] {
			if paths[i][j] != want[i][j] {
				t.Errorf("paths[%d] = %v, want %v", i, paths[i], want[i])
				break
			}
		}
	}
}

func TestCounts(t *testing.T) {
	tree := testTree()
	if got := tree.FileCount(); got != 2 {
		t.Errorf("FileCount() = %d, want 2", got)
	}
	if got := tree.nodeCount(); got != 4 {
		t.Errorf("nodeCount() = %d, want 4", got)
	}
}
