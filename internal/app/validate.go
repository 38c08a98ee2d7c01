package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	payloadschema "horse.fit/eventmerge/schema"
)

type validateResult struct {
	Files    int
	Payloads int
	Valid    int
	Invalid  int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/candidates", "Directory containing .json candidate event files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateResult{}
	for _, path := range files {
		result.Files++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}

		payloads, err := payloadsFromDocument(raw)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}

		validated := payloadschema.ValidateBatch(payloads)
		result.Payloads += len(payloads)
		result.Valid += len(validated.Candidates)
		result.Invalid += len(validated.Rejections)
		for _, rejection := range validated.Rejections {
			fmt.Fprintf(os.Stderr, "INVALID %s[%d]: %s\n", path, rejection.Index, rejection.Error)
		}
	}

	fmt.Printf(
		"validate files=%d payloads=%d valid=%d invalid=%d dir=%s recursive=%t\n",
		result.Files,
		result.Payloads,
		result.Valid,
		result.Invalid,
		strings.TrimSpace(*dir),
		*recursive,
	)

	if result.Files == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// payloadsFromDocument accepts a single payload object, a JSON array of
// payloads, or an object with an "events" array.
func payloadsFromDocument(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("malformed JSON")
	}
	if trimmed[0] == '{' {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		if _, ok := doc["events"]; !ok {
			return []json.RawMessage{json.RawMessage(trimmed)}, nil
		}
	}
	return payloadschema.SplitBatch(trimmed)
}

// collectPayloads reads every document under path, a file or a directory, and
// returns the payloads in file order.
func collectPayloads(path string, recursive bool) ([]json.RawMessage, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "-" {
		raw, err := readAllStdin()
		if err != nil {
			return nil, err
		}
		return payloadsFromDocument(raw)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanPath, err)
	}

	files := []string{cleanPath}
	if info.IsDir() {
		files, err = collectJSONFiles(cleanPath, recursive)
		if err != nil {
			return nil, err
		}
	}

	var payloads []json.RawMessage
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		items, err := payloadsFromDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		payloads = append(payloads, items...)
	}
	if len(payloads) > payloadschema.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d payloads, limit %d", payloadschema.ErrBatchTooLarge, len(payloads), payloadschema.MaxBatchSize)
	}
	return payloads, nil
}

func readAllStdin() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(os.Stdin); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return buf.Bytes(), nil
}

func collectJSONFiles(root string, recursive bool) ([]string, error) {
	cleanRoot := strings.TrimSpace(root)
	if cleanRoot == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(cleanRoot)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", cleanRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cleanRoot)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(cleanRoot)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", cleanRoot, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if strings.EqualFold(filepath.Ext(name), ".json") {
				files = append(files, filepath.Join(cleanRoot, name))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err = filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != cleanRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", cleanRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
