package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func benchRecord() Record {
	return Record{
		DecisionID: "d-bench",
		Identity:   "ops",
		Tool:       "deploy",
		Decision:   "allow",
		Reason:     "rule ops-deploy allows",
		Stage:      "ratelimit",
		ArgsDigest: Digest([]byte(`{"env":"prod"}`)),
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

	r := benchRecord()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		al.Record(ctx, r)
	}
}

func BenchmarkRecord_Memory(b *testing.B) {
	m := NewMemory()
	r := benchRecord()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Record(ctx, r)
	}
}

func benchVerify(b *testing.B, n int) {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	al, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	r := benchRecord()
	for i := 0; i < n; i++ {
		al.Record(context.Background(), r)
	}
	al.Close()

	info, _ := os.Stat(path)
	b.ResetTimer()
	b.SetBytes(info.Size())

	for i := 0; i < b.N; i++ {
		result := Verify(path)
		if !result.Valid {
			b.Fatal("invalid chain:", result.Error)
		}
	}
}

func BenchmarkVerify_1000(b *testing.B) {
	benchVerify(b, 1000)
}

func BenchmarkVerify_10000(b *testing.B) {
	benchVerify(b, 10000)
}
