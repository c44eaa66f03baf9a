package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finsight/internal/embedding"
	"finsight/internal/resilience"
	"finsight/internal/retrieval"
	"finsight/internal/store"
	"finsight/internal/types"
)

var ingestBatchSize int

// ingestCmd groups the data-loading subcommands
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load transcripts and metrics into the local store",
}

// ingestTranscriptsCmd indexes transcript chunks from a JSONL file
var ingestTranscriptsCmd = &cobra.Command{
	Use:   "transcripts [file.jsonl]",
	Short: "Embed and index transcript chunks from a JSONL file",
	Long: `Reads one chunk per line, embeds the text with the document task
type, encodes the sparse keyword vector, and upserts everything into the
SQLite index. Re-ingesting a file replaces chunks by ID.

Line format:
  {"id": "AMD-Q3-2024-c017", "text": "...", "source": "AMD-Q3-2024-call",
   "meta": {"ticker": "AMD", "fiscal_year": 2024, "fiscal_quarter": "Q3", "section": "qa"}}`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestTranscripts,
}

// ingestMetricsCmd loads reported metrics from a JSON file
var ingestMetricsCmd = &cobra.Command{
	Use:   "metrics [file.json]",
	Short: "Load reported financial metrics from a JSON array",
	Long: `Reads a JSON array of metric observations and upserts them keyed
by (ticker, metric, fiscal_year, fiscal_quarter).

Element format:
  {"ticker": "AMD", "metric": "revenue", "fiscal_year": 2024,
   "fiscal_quarter": "Q3", "value": 6.819e9, "unit": "USD", "source": "10-Q"}`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestMetrics,
}

func init() {
	ingestTranscriptsCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 32, "Chunks embedded per API batch")

	ingestCmd.AddCommand(ingestTranscriptsCmd)
	ingestCmd.AddCommand(ingestMetricsCmd)
}

func runIngestTranscripts(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	var chunks []types.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var chunk types.Chunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return fmt.Errorf("line %d: invalid chunk: %w", line, err)
		}
		if chunk.ID == "" || chunk.Text == "" {
			return fmt.Errorf("line %d: chunk requires id and text", line)
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no chunks found in %s", args[0])
	}

	encoder := retrieval.NewSparseEncoder(a.cfg.Retrieval.SparseDimensions, a.cfg.Retrieval.SparseCacheSize)
	ctx := context.Background()
	start := time.Now()

	for from := 0; from < len(chunks); from += ingestBatchSize {
		to := from + ingestBatchSize
		if to > len(chunks) {
			to = len(chunks)
		}
		batch := chunks[from:to]

		dense, err := embedBatch(ctx, a, batch)
		if err != nil {
			return fmt.Errorf("failed to embed chunks %d-%d: %w", from, to-1, err)
		}

		indexed := make([]store.IndexedChunk, len(batch))
		for i, chunk := range batch {
			indexed[i] = store.IndexedChunk{
				Chunk:  chunk,
				Dense:  dense[i],
				Sparse: encoder.Encode(chunk.Text),
			}
		}
		if err := a.store.UpsertChunks(ctx, indexed); err != nil {
			return err
		}
		logger.Info("Indexed batch",
			zap.Int("from", from),
			zap.Int("count", len(batch)))
	}

	total, err := a.store.CountChunks(ctx)
	if err != nil {
		return err
	}
	logger.Info("Ingest complete",
		zap.Int("ingested", len(chunks)),
		zap.Int("index_total", total),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// embedBatch embeds a batch of chunk texts with the document task type,
// using the provider's batch endpoint when it has one.
func embedBatch(ctx context.Context, a *app, batch []types.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	if batcher, ok := a.embedder.(embedding.BatchEmbedder); ok {
		return resilience.DoValue(ctx, a.exec, "embedder", func(ctx context.Context) ([][]float32, error) {
			return batcher.EmbedBatch(ctx, texts, types.EmbedDocument)
		})
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := resilience.DoValue(ctx, a.exec, "embedder", func(ctx context.Context) ([]float32, error) {
			return a.embedder.Embed(ctx, text, types.EmbedDocument)
		})
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func runIngestMetrics(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	var metrics []store.Metric
	if err := json.Unmarshal(data, &metrics); err != nil {
		return fmt.Errorf("invalid metrics file: %w", err)
	}
	if len(metrics) == 0 {
		return fmt.Errorf("no metrics found in %s", args[0])
	}

	if err := a.store.PutMetrics(context.Background(), metrics); err != nil {
		return err
	}
	logger.Info("Metrics loaded", zap.Int("count", len(metrics)))
	return nil
}
