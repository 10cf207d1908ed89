package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	embedBatchSize   = 64
)

// IngestExtensions are the file types picked up from directories.
var IngestExtensions = []string{".txt", ".md", ".py", ".json"}

// IngestReport summarizes an ingestion run.
type IngestReport struct {
	Files   int      `json:"files"`
	Chunks  int      `json:"chunks"`
	IDs     []string `json:"ids"`
	Skipped []string `json:"skipped,omitempty"`
}

// Ingestor splits files into fixed-size chunks, embeds them and stores them
// in the document collection.
type Ingestor struct {
	logger     *slog.Logger
	docs       ports.DocumentStore
	embedder   domain.EmbeddingProvider
	collection string
	chunkSize  int
}

// NewIngestor creates an ingestor. chunkSize <= 0 uses DefaultChunkSize.
func NewIngestor(logger *slog.Logger, docs ports.DocumentStore, embedder domain.EmbeddingProvider, collection string, chunkSize int) *Ingestor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingestor{logger: logger, docs: docs, embedder: embedder, collection: collection, chunkSize: chunkSize}
}

// ChunkText cuts text into consecutive pieces of at most size characters.
func ChunkText(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// IngestPath ingests a file, or every file under a directory whose extension
// is in IngestExtensions.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (*IngestReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return i.IngestFiles(ctx, []string{path})
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && hasIngestExtension(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files with extensions %v in %s", IngestExtensions, path)
	}
	i.logger.Info("found files to ingest", "dir", path, "count", len(files))
	return i.IngestFiles(ctx, files)
}

// IngestFiles reads, chunks and stores each file. Unreadable files are
// skipped and listed in the report.
func (i *Ingestor) IngestFiles(ctx context.Context, paths []string) (*IngestReport, error) {
	report := &IngestReport{}
	var texts []string
	var metas []map[string]interface{}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			i.logger.Warn("skipping unreadable file", "path", p, "error", err)
			report.Skipped = append(report.Skipped, p)
			continue
		}
		chunks := ChunkText(string(data), i.chunkSize)
		if len(chunks) == 0 {
			report.Skipped = append(report.Skipped, p)
			continue
		}
		source := filepath.Base(p)
		for n, chunk := range chunks {
			meta := map[string]interface{}{"source": source, "type": "file"}
			if len(chunks) > 1 {
				meta["chunk"] = n + 1
			}
			texts = append(texts, chunk)
			metas = append(metas, meta)
		}
		report.Files++
		i.logger.Debug("loaded file", "path", p, "chunks", len(chunks))
	}

	if len(texts) == 0 {
		return report, errors.New("no documents to add")
	}
	ids, err := i.IngestTexts(ctx, texts, metas)
	if err != nil {
		return report, err
	}
	report.IDs = ids
	report.Chunks = len(ids)
	return report, nil
}

// IngestTexts embeds and stores texts as-is. metas may be nil.
func (i *Ingestor) IngestTexts(ctx context.Context, texts []string, metas []map[string]interface{}) ([]string, error) {
	if i.docs == nil || i.embedder == nil {
		return nil, fmt.Errorf("document store: %w", domain.ErrNotConfigured)
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		vectors, err := i.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return ids, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return ids, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), end-start)
		}

		docs := make([]domain.Document, 0, end-start)
		for k, text := range texts[start:end] {
			doc := domain.Document{
				ID:         uuid.NewString(),
				Collection: i.collection,
				Content:    text,
				Embedding:  vectors[k],
				CreatedAt:  now,
			}
			if metas != nil && start+k < len(metas) {
				doc.Metadata = metas[start+k]
			}
			docs = append(docs, doc)
		}
		if err := i.docs.AddDocuments(ctx, docs); err != nil {
			return ids, fmt.Errorf("store chunks: %w", err)
		}
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
	}

	i.logger.Info("documents added", "collection", i.collection, "count", len(ids))
	return ids, nil
}

func hasIngestExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range IngestExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
