// Package rag defines the optional long-term retrieval port and an async
// indexer that submits completed exchanges without blocking turns.
package rag

import (
	"context"
	"log/slog"
	"time"
)

// Document is one unit submitted for indexing.
type Document struct {
	ID      string            `json:"id"`
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Port is implemented by external retrieval backends.
type Port interface {
	Query(ctx context.Context, text, mode string) (string, error)
	Index(ctx context.Context, doc Document) error
}

// Indexer submits documents fire-and-forget through a bounded queue. A full
// queue drops the document; indexing is best-effort by contract.
type Indexer struct {
	port  Port
	queue chan Document
}

func NewIndexer(port Port) *Indexer {
	return &Indexer{port: port, queue: make(chan Document, 128)}
}

// Run drains the queue until ctx is done.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc := <-ix.queue:
			indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := ix.port.Index(indexCtx, doc); err != nil {
				slog.Warn("rag indexing failed", "doc", doc.ID, "error", err)
			}
			cancel()
		}
	}
}

// Submit enqueues a document without blocking.
func (ix *Indexer) Submit(doc Document) {
	select {
	case ix.queue <- doc:
	default:
		slog.Warn("rag index queue full, dropping document", "doc", doc.ID)
	}
}
