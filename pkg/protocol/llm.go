package protocol

import (
	"context"

	"github.com/dukex/missionflow/pkg/models"
)

// StreamRequest is a single prompt pair sent to the model.
type StreamRequest struct {
	System string
	User   string
}

// StreamResult is the full reply once the stream completes.
type StreamResult struct {
	Text     string
	Model    string
	Provider string
}

// Streamer streams a model reply. Cancelling ctx must close the stream
// promptly and make Stream return ctx.Err().
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest, onToken func(string)) (*StreamResult, error)
}

// DigestReader reads the knowledge base digest for a domain. The domain id
// models.AllDomains reads every domain.
type DigestReader interface {
	ReadDigest(ctx context.Context, domainID string) (*models.Digest, error)
}
