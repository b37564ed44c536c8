package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeSegment(t *testing.T, path string, records [][2]string) {
	t.Helper()
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create(%q) error: %v", path, err)
	}
	for _, rec := range records {
		if err := w.WriteRecord(rec[0], rec[1]); err != nil {
			t.Fatalf("WriteRecord(%q, %q) error: %v", rec[0], rec[1], err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) error: %v", path, err)
	}
	return string(b)
}

func TestNameParseID(t *testing.T) {
	name := Name("segment", 7)
	if name != "segment-7" {
		t.Fatalf("Name() = %q, want %q", name, "segment-7")
	}
	id, ok := ParseID("segment", name)
	if !ok || id != 7 {
		t.Fatalf("ParseID(%q) = %d, %v, want 7, true", name, id, ok)
	}
	if _, ok := ParseID("segment", "wal.log"); ok {
		t.Fatal("ParseID(wal.log) reported ok, want false")
	}
}

func TestWriter_OffsetsMatchReaderOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-1")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	type want struct {
		key    string
		offset int64
	}
	var offsets []want
	for _, rec := range [][2]string{{"abc", "123"}, {"def", "456"}, {"ghi", "789"}} {
		offsets = append(offsets, want{key: rec[0], offset: w.Offset()})
		if err := w.WriteRecord(rec[0], rec[1]); err != nil {
			t.Fatalf("WriteRecord() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	for _, o := range offsets {
		key, _, err := ReadAt(path, o.offset)
		if err != nil {
			t.Fatalf("ReadAt(%d) error: %v", o.offset, err)
		}
		if key != o.key {
			t.Fatalf("ReadAt(%d) key = %q, want %q", o.offset, key, o.key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		records [][2]string
		wantErr bool
	}{
		"strictly ascending": {
			records: [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}},
		},
		"out of order": {
			records: [][2]string{{"b", "2"}, {"a", "1"}},
			wantErr: true,
		},
		"duplicate key": {
			records: [][2]string{{"a", "1"}, {"a", "2"}},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "segment-1")
			writeSegment(t, path, tc.records)

			err := Validate(path)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestScanFrom_StopsPastTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-1")
	writeSegment(t, path, [][2]string{{"a", "1"}, {"c", "3"}, {"e", "5"}})

	var seen []string
	err := ScanFrom(path, 0, func(key, value string) (bool, error) {
		seen = append(seen, key)
		return key >= "c", nil
	})
	if err != nil {
		t.Fatalf("ScanFrom() error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, seen); diff != "" {
		t.Fatalf("ScanFrom() visited keys mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "segment-1")
	newPath := filepath.Join(dir, "segment-2")
	outPath := filepath.Join(dir, "segment-3")

	writeSegment(t, oldPath, [][2]string{{"1", "test1"}, {"2", "test2"}, {"4", "test6"}})
	writeSegment(t, newPath, [][2]string{{"1", "test5"}, {"2", "test6"}, {"3", "test5"}})

	if err := Merge(oldPath, newPath, outPath); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}

	want := "1,test5\n2,test6\n3,test5\n4,test6\n"
	if got := readFile(t, outPath); got != want {
		t.Fatalf("Merge() output = %q, want %q", got, want)
	}
}

func TestRemoveKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-1")
	writeSegment(t, path, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}})

	retained, err := RemoveKeys(path, map[string]struct{}{"b": {}})
	if err != nil {
		t.Fatalf("RemoveKeys() error: %v", err)
	}
	if retained != 2 {
		t.Fatalf("RemoveKeys() retained = %d, want 2", retained)
	}

	want := "a,1\nc,3\n"
	if got := readFile(t, path); got != want {
		t.Fatalf("RemoveKeys() output = %q, want %q", got, want)
	}
}

func TestRemoveKeys_EmptiesSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-1")
	writeSegment(t, path, [][2]string{{"a", "1"}})

	retained, err := RemoveKeys(path, map[string]struct{}{"a": {}})
	if err != nil {
		t.Fatalf("RemoveKeys() error: %v", err)
	}
	if retained != 0 {
		t.Fatalf("RemoveKeys() retained = %d, want 0", retained)
	}
}

func TestScanAll_ReportsOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-1")
	writeSegment(t, path, [][2]string{{"abc", "123"}, {"def", "456"}})

	var offsets []int64
	err := ScanAll(path, func(key, value string, offset int64) error {
		offsets = append(offsets, offset)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanAll() error: %v", err)
	}
	if diff := cmp.Diff([]int64{0, 8}, offsets); diff != "" {
		t.Fatalf("ScanAll() offsets mismatch (-want +got):\n%s", diff)
	}
}
