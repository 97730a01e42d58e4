package filetree

import "testing"

func TestApplyOperations(t *testing.T) {
	ops := []Operation{
		{Type: OpCreateFile, Path: "/index.js", Content: "console.log(1)"},
		{Type: OpCreateFile, Path: "/package.json", Content: "{}"},
		{Type: OpCreateFolder, Path: "/public"},
		{Type: OpCreateFile, Path: "src/app/App.jsx", Content: "v1"},
		{Type: OpEditFile, Path: "/src/app/App.jsx", Content: "v2"},
		{Type: OpRunScript, Command: "npm run dev"},
	}

	result := ApplyOperations(nil, ops)

	m := ToMap(Flatten(result.Tree))
	if len(m) != 3 {
		t.Fatalf("Expected 3 files, got %d: %v", len(m), m)
	}
	if m["/src/app/App.jsx"] != "v2" {
		t.Errorf("Expected later op to win, got %q", m["/src/app/App.jsx"])
	}
	if n := Find(result.Tree, "/public"); n == nil || !n.IsFolder() {
		t.Error("Expected /public folder")
	}
	if len(result.Scripts) != 1 || result.Scripts[0] != "npm run dev" {
		t.Errorf("Unexpected scripts: %v", result.Scripts)
	}
	if len(result.Touched) != 4 {
		t.Errorf("Expected 4 touched paths, got %v", result.Touched)
	}
}

func TestApplyOperationsDoesNotMutateBase(t *testing.T) {
	base := sampleTree()
	result := ApplyOperations(base, []Operation{
		{Type: OpEditFile, Path: "/package.json", Content: `{"name":"x"}`},
		{Type: OpDeleteFile, Path: "/src/lib"},
	})

	if Find(base, "/package.json").Content != "{}" {
		t.Error("Base tree was mutated")
	}
	if Find(base, "/src/lib/util.js") == nil {
		t.Error("Base tree lost a node")
	}
	if Find(result.Tree, "/src/lib") != nil {
		t.Error("Expected /src/lib to be deleted")
	}
}

func TestApplyOperationsDeleteThenRecreate(t *testing.T) {
	base := sampleTree()
	result := ApplyOperations(base, []Operation{
		{Type: OpDeleteFile, Path: "/src/main.js"},
		{Type: OpCreateFile, Path: "/src/main.js", Content: "again"},
	})
	if got := Find(result.Tree, "/src/main.js"); got == nil || got.Content != "again" {
		t.Errorf("Expected recreated file, got %+v", got)
	}
}

func TestApplyOperationsWarnings(t *testing.T) {
	result := ApplyOperations(nil, []Operation{
		{Type: OpDeleteFile, Path: "/missing.js"},
		{Type: OpCreateFile, Path: ""},
		{Type: "rename", Path: "/x"},
	})
	if len(result.Warnings) != 3 {
		t.Errorf("Expected 3 warnings, got %v", result.Warnings)
	}
	if len(result.Tree) != 0 {
		t.Errorf("Expected empty tree, got %d roots", len(result.Tree))
	}
}
