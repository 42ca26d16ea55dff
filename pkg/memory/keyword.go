package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jllopis/telos/pkg/core"
)

// KeywordStore is an in-process retriever scoring chunks by keyword
// overlap. It is the dev/test stand-in for the vector store.
type KeywordStore struct {
	corpus []core.Chunk
}

// NewKeywordStore creates a retriever over the given corpus. A nil corpus
// uses SampleCorpus.
func NewKeywordStore(corpus []core.Chunk) *KeywordStore {
	if corpus == nil {
		corpus = SampleCorpus()
	}
	return &KeywordStore{corpus: append([]core.Chunk(nil), corpus...)}
}

// Retrieve scores every chunk by word overlap with the query and returns
// the top k matches, highest score first. Chunks with no overlap are
// omitted.
func (s *KeywordStore) Retrieve(_ context.Context, query string, k int, _ string) ([]core.Chunk, error) {
	queryWords := wordSet(query)
	if len(queryWords) == 0 {
		return nil, nil
	}

	var scored []core.Chunk
	for _, chunk := range s.corpus {
		overlap := 0
		for word := range wordSet(chunk.Text) {
			if queryWords[word] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		chunk.Score = math.Round(float64(overlap)/float64(len(queryWords))*10000) / 10000
		scored = append(scored, chunk)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func wordSet(text string) map[string]bool {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// LogCorpus returns the static infrastructure log lines served by the
// "logs" corpus and the log_search tool.
func LogCorpus() []core.Chunk {
	lines := []string{
		"2024-01-15 10:01 GPU0: temperature 85C, utilization 98%",
		"2024-01-15 10:02 GPU1: ECC error detected, count=3",
		"2024-01-15 10:03 GPU0: CUDA OOM at batch_size=128",
		"2024-01-15 10:04 GPU2: driver version mismatch warning",
		"2024-01-15 10:05 GPU1: NVLink error, peer GPU3 unreachable",
		"2024-01-15 10:06 GPU3: fan speed 0 RPM, possible failure",
		"2024-01-15 10:07 GPU0: Xid 79, GPU has fallen off the bus",
	}
	chunks := make([]core.Chunk, len(lines))
	for i, line := range lines {
		chunks[i] = core.Chunk{
			ID:     fmt.Sprintf("log-%d", i+1),
			Text:   line,
			Source: "gpu_cluster.log",
		}
	}
	return chunks
}

// SampleCorpus returns the built-in GPU operations knowledge base used by
// the demo wiring and the tests.
func SampleCorpus() []core.Chunk {
	return []core.Chunk{
		{
			ID:     "1",
			Text:   "GPU temperature should not exceed 83C under sustained load. If it does, check fan speeds and thermal paste.",
			Source: "gpu_ops_manual.md",
		},
		{
			ID:     "2",
			Text:   "ECC errors on NVIDIA GPUs can indicate failing VRAM. Run nvidia-smi -q -d ECC to check error counts.",
			Source: "gpu_troubleshooting.md",
		},
		{
			ID:     "3",
			Text:   "CUDA Out of Memory errors can be resolved by reducing batch size, enabling gradient checkpointing, or using mixed precision training.",
			Source: "ml_ops_guide.md",
		},
		{
			ID:     "4",
			Text:   "NVLink errors between GPUs may indicate a hardware issue. Reseat the NVLink bridge and run nvidia-smi nvlink -s.",
			Source: "gpu_troubleshooting.md",
		},
		{
			ID:     "5",
			Text:   "Driver version mismatches between CUDA toolkit and GPU driver can cause runtime errors. Use nvidia-smi and nvcc --version to verify.",
			Source: "driver_guide.md",
		},
		{
			ID:     "6",
			Text:   "To monitor GPU utilization in real-time, use nvidia-smi dmon or gpustat for a cleaner output.",
			Source: "monitoring_guide.md",
		},
	}
}
