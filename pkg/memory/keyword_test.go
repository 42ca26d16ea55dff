package memory

import (
	"context"
	"testing"

	"github.com/jllopis/telos/pkg/core"
)

func TestRetrieveRanksByOverlap(t *testing.T) {
	store := NewKeywordStore(nil)

	chunks, err := store.Retrieve(context.Background(), "ECC errors on NVIDIA GPUs", 3, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected results")
	}
	if chunks[0].Source != "gpu_troubleshooting.md" {
		t.Fatalf("expected the ECC chunk first, got %+v", chunks[0])
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Score > chunks[i-1].Score {
			t.Fatalf("results not sorted by score: %+v", chunks)
		}
	}
}

func TestRetrieveHonorsK(t *testing.T) {
	store := NewKeywordStore(nil)
	chunks, err := store.Retrieve(context.Background(), "GPU", 2, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) > 2 {
		t.Fatalf("expected at most 2 chunks, got %d", len(chunks))
	}
}

func TestRetrieveNoOverlap(t *testing.T) {
	store := NewKeywordStore(nil)
	chunks, err := store.Retrieve(context.Background(), "quantum entanglement breakfast", 3, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	for _, c := range chunks {
		if c.Score > 0 {
			t.Fatalf("unrelated query should not score: %+v", c)
		}
	}
}

func TestRetrieveCustomCorpus(t *testing.T) {
	corpus := []core.Chunk{
		{ID: "a", Text: "alpha beta gamma", Source: "x"},
		{ID: "b", Text: "delta epsilon", Source: "y"},
	}
	store := NewKeywordStore(corpus)

	chunks, err := store.Retrieve(context.Background(), "beta", 1, "")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "a" {
		t.Fatalf("unexpected result: %+v", chunks)
	}
}

func TestLogCorpusShape(t *testing.T) {
	logs := LogCorpus()
	if len(logs) != 7 {
		t.Fatalf("expected 7 log lines, got %d", len(logs))
	}
	for _, c := range logs {
		if c.Source != "gpu_cluster.log" || c.Text == "" {
			t.Fatalf("malformed log chunk: %+v", c)
		}
	}
}
