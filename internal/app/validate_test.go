package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectJSONFilesRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "b.txt"), `x`)
	mustWriteFile(t, filepath.Join(root, ".hidden.json"), `{}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"k":"v2"}`)

	files, err := collectJSONFiles(root, true)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 json files, got %d (%v)", len(files), files)
	}
}

func TestCollectJSONFilesNonRecursive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `{"k":"v"}`)
	mustWriteFile(t, filepath.Join(root, "nested", "c.json"), `{"k":"v2"}`)

	files, err := collectJSONFiles(root, false)
	if err != nil {
		t.Fatalf("collectJSONFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 json file, got %d (%v)", len(files), files)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestPayloadsFromDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "single payload", raw: `{"source_id":"a","title":"x"}`, want: 1},
		{name: "array", raw: `[{"source_id":"a"},{"source_id":"b"}]`, want: 2},
		{name: "envelope", raw: `{"events":[{"source_id":"a"}]}`, want: 1},
		{name: "empty", raw: ` `, wantErr: true},
		{name: "malformed", raw: `{"source_id":`, wantErr: true},
		{name: "scalar", raw: `42`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := payloadsFromDocument([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d payloads", len(got))
				}
				return
			}
			if err != nil {
				t.Fatalf("payloadsFromDocument failed: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d payloads, got %d", tt.want, len(got))
			}
		})
	}
}

func TestCollectPayloadsFromDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.json"), `[{"source_id":"a"},{"source_id":"b"}]`)
	mustWriteFile(t, filepath.Join(root, "nested", "b.json"), `{"source_id":"c"}`)
	mustWriteFile(t, filepath.Join(root, "notes.txt"), `ignored`)

	payloads, err := collectPayloads(root, true)
	if err != nil {
		t.Fatalf("collectPayloads failed: %v", err)
	}
	if len(payloads) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(payloads))
	}

	single, err := collectPayloads(filepath.Join(root, "nested", "b.json"), false)
	if err != nil {
		t.Fatalf("collectPayloads on a file failed: %v", err)
	}
	if len(single) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(single))
	}

	mustWriteFile(t, filepath.Join(root, "broken.json"), `{`)
	if _, err := collectPayloads(root, true); err == nil {
		t.Fatalf("expected malformed file to fail the collection")
	}
}
