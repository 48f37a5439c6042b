package engine

import (
	"context"
	"time"

	"github.com/Veraticus/mailtally/internal/extract"
	"github.com/Veraticus/mailtally/internal/model"
)

// Prefilter defines the contract for the cheap candidate check.
type Prefilter interface {
	Classify(msg model.RawMessage) model.Candidate
}

// Extractor defines the contract for turning a candidate into a tagged result.
type Extractor interface {
	Extract(ctx context.Context, c model.Candidate) (extract.Result, error)
}

// Summarizer defines the contract for recomputing a day's summary.
type Summarizer interface {
	Recompute(ctx context.Context, day time.Time) (*model.DailySummary, error)
}
