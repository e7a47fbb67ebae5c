package source

import (
	"context"
	"time"
)

// RawReceipt is one fetched receipt document before parsing. ExternalID is
// the dedup key; empty means the receipt cannot be deduplicated.
type RawReceipt struct {
	Content     string
	ContentType string
	ReceivedAt  time.Time
	ExternalID  string
	SourceName  string
}

// Source delivers raw receipts from one upstream. An email inbox today;
// other kinds plug in through the same contract and are treated uniformly.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]RawReceipt, error)
	TestConnection(ctx context.Context) error
}
