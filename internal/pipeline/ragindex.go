package pipeline

import (
	"context"
	"fmt"

	"github.com/calder-ai/calder/internal/rag"
	"github.com/calder-ai/calder/internal/turn"
)

// RagIndexing submits the completed exchange for external indexing,
// fire-and-forget.
type RagIndexing struct {
	Indexer *rag.Indexer
}

func (RagIndexing) Name() string { return "rag_indexing" }
func (RagIndexing) Order() int   { return OrderRagIndexing }

func (r RagIndexing) ShouldProcess(tc *turn.Context) bool {
	return r.Indexer != nil && tc.FinalAnswer != ""
}

func (r RagIndexing) Process(ctx context.Context, tc *turn.Context) error {
	doc := rag.Document{
		ID:      fmt.Sprintf("%s-%s", tc.SessionKey, tc.Inbound.ID),
		Content: fmt.Sprintf("User: %s\nAssistant: %s", tc.Inbound.Content, tc.FinalAnswer),
		Meta: map[string]string{
			"session": tc.SessionKey,
			"channel": tc.Identity.Channel,
		},
	}
	r.Indexer.Submit(doc)
	return nil
}
