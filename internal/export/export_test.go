package export

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/klauspost/compress/zip"

	"askh/internal/checkpoint"
	"askh/internal/filetree"
	"askh/internal/llm"
)

func TestWriteZip(t *testing.T) {
	files := []filetree.FlatFile{
		{Path: "/src/main.js", Content: "console.log(1)"},
		{Path: "/package.json", Content: "{}"},
		{Path: "/../escape.txt", Content: "x"},
	}

	var buf bytes.Buffer
	if err := WriteZip(&buf, "my-app", files); err != nil {
		t.Fatalf("WriteZip: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}

	want := map[string]string{
		"my-app/escape.txt":   "x",
		"my-app/package.json": "{}",
		"my-app/src/main.js":  "console.log(1)",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d entries, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		content, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected entry %q", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != content {
			t.Errorf("%s = %q, want %q", f.Name, data, content)
		}
	}

	// archives are reproducible
	var again bytes.Buffer
	WriteZip(&again, "my-app", files)
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Error("archive bytes differ between runs")
	}
}

func versions() []Version {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []Version{
		{ID: "a", Version: 1, Label: "Initial app", CreatedAt: base, Files: []filetree.FlatFile{
			{Path: "/index.html", Content: "<h1>hi</h1>"},
			{Path: "/src/old.js", Content: "old"},
		}},
		{ID: "b", Version: 2, Label: "Remove old module", CreatedAt: base.Add(time.Minute), Files: []filetree.FlatFile{
			{Path: "/index.html", Content: "<h1>hello</h1>"},
		}},
		{ID: "c", Version: 3, Label: "", CreatedAt: base.Add(2 * time.Minute), Files: []filetree.FlatFile{
			{Path: "/index.html", Content: "<h1>hello</h1>"},
		}},
	}
}

func TestWriteGit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")

	n, err := WriteGit(dir, versions(), Author{})
	if err != nil {
		t.Fatalf("WriteGit: %v", err)
	}
	if n != 3 {
		t.Errorf("commits = %d, want 3", n)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if commit.Author.Name != DefaultAuthor.Name {
		t.Errorf("author = %q", commit.Author.Name)
	}

	if _, err := commit.File("src/old.js"); !errors.Is(err, object.ErrFileNotFound) {
		t.Errorf("deleted file still in HEAD: %v", err)
	}
	f, err := commit.File("index.html")
	if err != nil {
		t.Fatalf("index.html: %v", err)
	}
	if content, _ := f.Contents(); content != "<h1>hello</h1>" {
		t.Errorf("index.html = %q", content)
	}

	var labels []string
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	iter.ForEach(func(c *object.Commit) error {
		labels = append(labels, c.Message)
		return nil
	})
	if len(labels) != 3 {
		t.Fatalf("log has %d commits", len(labels))
	}
	if got := labels[2]; got[:len("Initial app")] != "Initial app" {
		t.Errorf("first commit message = %q", got)
	}

	if _, err := WriteGit(dir, versions(), Author{}); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("err = %v, want ErrNotEmpty", err)
	}
}

func TestTimelineRoundTrip(t *testing.T) {
	store := checkpoint.NewStore()
	tree := filetree.Rebuild([]filetree.FlatFile{{Path: "/a.txt", Content: "1"}})
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "make a"}}
	if _, err := store.Create(tree, msgs, "first"); err != nil {
		t.Fatal(err)
	}
	tree, _ = filetree.UpdateByPath(tree, "/a.txt", "2")
	if _, err := store.Create(tree, msgs, "second"); err != nil {
		t.Fatal(err)
	}

	tl, err := FromStore("ws", store)
	if err != nil {
		t.Fatalf("FromStore: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data", "ws.json")
	if err := SaveTimeline(path, tl); err != nil {
		t.Fatalf("SaveTimeline: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := LoadTimeline(path)
	if err != nil {
		t.Fatalf("LoadTimeline: %v", err)
	}
	if len(loaded.Versions) != 2 || loaded.Latest().Label != "second" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Latest().Files[0].Content != "2" {
		t.Errorf("latest content = %q", loaded.Latest().Files[0].Content)
	}
	for _, ref := range []string{"1", "v1", loaded.Versions[0].ID} {
		if v, ok := loaded.Find(ref); !ok || v.Label != "first" {
			t.Errorf("Find(%q) = %v, %v", ref, v, ok)
		}
	}
	if _, ok := loaded.Find("v9"); ok {
		t.Error("Find accepted an unknown version")
	}
}
