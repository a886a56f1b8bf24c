package domain

import (
	"time"
)

// PostID is the stable identifier of a source post.
type PostID string

// String returns the string representation of the PostID.
func (id PostID) String() string {
	return string(id)
}

// SourcePost is one item from the source feed. It is immutable once
// fetched; only its ID outlives the processing cycle (in the ledger).
type SourcePost struct {
	ID        PostID
	Title     string
	Author    string
	URL       string
	Media     []MediaRef
	CreatedAt time.Time
}

// HasMedia reports whether the post carries at least one supported
// media reference.
func (p *SourcePost) HasMedia() bool {
	for _, ref := range p.Media {
		if ref.Kind != KindUnsupported {
			return true
		}
	}
	return false
}

// MediaRef points at remote media belonging to a post. For split
// video streams AudioURL carries the separately-hosted audio track;
// it may be empty even when Kind is KindVideoWithAudio, in which case
// the video is posted silent.
type MediaRef struct {
	URL      string
	AudioURL string
	Kind     MediaKind
}
