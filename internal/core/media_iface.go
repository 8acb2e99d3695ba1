package core

import "context"

// Candidate is a connectivity candidate exchanged while establishing a media path.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// MediaEngine allocates per-room media contexts. All calls are bounded by ctx;
// a failed call fails that single operation only.
type MediaEngine interface {
	CreateContext(ctx context.Context) (MediaContext, error)
}

// MediaContext groups all endpoints of one room. It outlives every endpoint
// created under it and is released exactly once, after the room empties.
type MediaContext interface {
	CreateEndpoint(ctx context.Context) (MediaEndpoint, error)
	Release(ctx context.Context) error
}

// MediaEndpoint is one directional media stream attachment point.
type MediaEndpoint interface {
	// GenerateAnswer applies a remote offer and returns the local answer SDP.
	GenerateAnswer(ctx context.Context, sdpOffer string) (string, error)
	// ApplyCandidate applies a remote connectivity candidate.
	ApplyCandidate(ctx context.Context, cand Candidate) error
	// OnCandidate sets a callback for locally gathered candidates.
	OnCandidate(func(Candidate))
	// Connect attaches the source's published stream to this endpoint.
	Connect(ctx context.Context, source MediaEndpoint) error
	Release(ctx context.Context) error
}
