// Package source models the upstream message feed and the client used to read
// it. The concrete implementation speaks MTProto (telegram.go); everything
// above it depends only on the Client interface.
package source

import (
	"context"
	"time"
)

// MediaKind is the closed set of media variants the pipeline distinguishes.
// Classification happens once, in the adapter; consumers switch on the kind
// instead of inspecting wire types.
type MediaKind int

const (
	KindUnsupported MediaKind = iota
	KindPhoto
	KindImageDocument
	KindOtherDocument
)

func (k MediaKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindImageDocument:
		return "image_document"
	case KindOtherDocument:
		return "other_document"
	default:
		return "unsupported"
	}
}

// Media is one attachment, already classified.
type Media struct {
	Kind     MediaKind
	MIME     string
	Filename string

	// ref is the adapter-private download handle.
	ref any
}

// Message is one source message. GroupedID is non-zero when the message is
// part of an album; album members share the id.
type Message struct {
	ID        int
	Date      time.Time
	Text      string
	GroupedID int64
	Media     *Media
}

// Peer is an opaque resolved channel handle returned by Resolve and accepted
// by History.
type Peer any

// Client reads the upstream feed. History returns messages strictly older
// than offsetID (0 means newest), newest first, at most limit entries.
type Client interface {
	Resolve(ctx context.Context, channel string) (Peer, error)
	History(ctx context.Context, peer Peer, offsetID, limit int) ([]Message, error)
	Download(ctx context.Context, msg Message) ([]byte, error)
}
