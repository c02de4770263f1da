package audit

import (
	"path/filepath"
	"testing"

	"github.com/ppiankov/skillgate/internal/model"
)

func benchEntry() Entry {
	return Entry{
		Type:       TypeInvocation,
		RequestID:  "r-bench",
		Capability: "move_file",
		Status:     string(model.StatusAllowedExecuted),
		Detail:     "moved a.txt",
		PolicyHash: "sha256:bench",
	}
}

func BenchmarkRecord_Single(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	al, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer al.Close()

	entry := benchEntry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		al.Record(entry)
	}
}

func BenchmarkMemoryRecord(b *testing.B) {
	m := NewMemory()
	entry := benchEntry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Record(entry)
	}
}

func BenchmarkVerify1K(b *testing.B) {
	path := filepath.Join(b.TempDir(), "verify.jsonl")
	al, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	entry := benchEntry()
	for i := 0; i < 1000; i++ {
		al.Record(entry)
	}
	al.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if r := Verify(path); !r.Valid {
			b.Fatal(r.Error)
		}
	}
}
