package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/sirupsen/logrus"

	"github.com/abusegal/telefeed/internal/logging"
)

const historyPageSize = 100

// Telegram wraps a gotd MTProto client authorized from a Telethon string
// session (the session format the deployment's secret store already holds).
type Telegram struct {
	client *telegram.Client
	log    *logrus.Logger
}

// NewTelegram builds a client from API credentials and a Telethon string session.
func NewTelegram(apiID int, apiHash, telethonSession string) (*Telegram, error) {
	data, err := session.TelethonSession(telethonSession)
	if err != nil {
		return nil, fmt.Errorf("decode telethon session: %w", err)
	}
	var storage session.StorageMemory
	loader := session.Loader{Storage: &storage}
	if err := loader.Save(context.Background(), data); err != nil {
		return nil, fmt.Errorf("seed session storage: %w", err)
	}
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &storage,
	})
	return &Telegram{client: client, log: logging.L()}, nil
}

// Run connects, verifies authorization, and invokes fn with a Client bound to
// the live connection. The connection is torn down when fn returns.
func (t *Telegram) Run(ctx context.Context, fn func(ctx context.Context, c Client) error) error {
	return t.client.Run(ctx, func(ctx context.Context) error {
		status, err := t.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("telegram session is not authorized")
		}
		t.log.Debug("telegram: connected")
		return fn(ctx, &tgClient{
			api: t.client.API(),
			dl:  downloader.NewDownloader(),
			log: t.log,
		})
	})
}

type tgClient struct {
	api *tg.Client
	dl  *downloader.Downloader
	log *logrus.Logger
}

func (c *tgClient) Resolve(ctx context.Context, channel string) (Peer, error) {
	username := strings.TrimPrefix(channel, "@")
	res, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", channel, err)
	}
	for _, chat := range res.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no channel in response", channel)
}

func (c *tgClient) History(ctx context.Context, peer Peer, offsetID, limit int) ([]Message, error) {
	input, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("unexpected peer type %T", peer)
	}
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     input,
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	modified, ok := res.AsModified()
	if !ok {
		return nil, fmt.Errorf("unexpected history response %T", res)
	}
	var out []Message
	for _, elem := range modified.GetMessages() {
		// Service messages (joins, pins) carry no feed content.
		m, ok := elem.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convert(m))
	}
	return out, nil
}

func (c *tgClient) Download(ctx context.Context, msg Message) ([]byte, error) {
	if msg.Media == nil || msg.Media.ref == nil {
		return nil, fmt.Errorf("message %d has no downloadable media", msg.ID)
	}
	loc, ok := msg.Media.ref.(tg.InputFileLocationClass)
	if !ok {
		return nil, fmt.Errorf("message %d: unexpected media ref %T", msg.ID, msg.Media.ref)
	}
	var buf bytes.Buffer
	if _, err := c.dl.Download(c.api, loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("download media for message %d: %w", msg.ID, err)
	}
	return buf.Bytes(), nil
}

func convert(m *tg.Message) Message {
	msg := Message{
		ID:   m.ID,
		Date: time.Unix(int64(m.Date), 0),
		Text: m.Message,
	}
	if gid, ok := m.GetGroupedID(); ok {
		msg.GroupedID = gid
	}
	if media, ok := m.GetMedia(); ok {
		msg.Media = classify(media)
	}
	return msg
}

// classify maps wire media onto the closed MediaKind variant, capturing the
// download location while the tg types are still at hand.
func classify(media tg.MessageMediaClass) *Media {
	switch mm := media.(type) {
	case *tg.MessageMediaPhoto:
		p, ok := mm.GetPhoto()
		if !ok {
			return &Media{Kind: KindUnsupported}
		}
		photo, ok := p.(*tg.Photo)
		if !ok {
			return &Media{Kind: KindUnsupported}
		}
		return &Media{Kind: KindPhoto, MIME: "image/jpeg", ref: photoLocation(photo)}
	case *tg.MessageMediaDocument:
		d, ok := mm.GetDocument()
		if !ok {
			return &Media{Kind: KindUnsupported}
		}
		doc, ok := d.(*tg.Document)
		if !ok {
			return &Media{Kind: KindUnsupported}
		}
		kind := KindOtherDocument
		if strings.HasPrefix(doc.MimeType, "image/") {
			kind = KindImageDocument
		}
		filename := ""
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				filename = fn.FileName
				break
			}
		}
		return &Media{
			Kind:     kind,
			MIME:     doc.MimeType,
			Filename: filename,
			ref: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
	default:
		return &Media{Kind: KindUnsupported}
	}
}

func photoLocation(p *tg.Photo) tg.InputFileLocationClass {
	// The last listed size is the largest.
	thumb := ""
	for _, size := range p.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			thumb = s.Type
		case *tg.PhotoSizeProgressive:
			thumb = s.Type
		}
	}
	return &tg.InputPhotoFileLocation{
		ID:            p.ID,
		AccessHash:    p.AccessHash,
		FileReference: p.FileReference,
		ThumbSize:     thumb,
	}
}
