// Package feed renders the recent-post window as a single HTML page, oldest
// first, in a chat-like reading order.
package feed

import (
	"context"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abusegal/telefeed/internal/l10n"
	"github.com/abusegal/telefeed/internal/logging"
	"github.com/abusegal/telefeed/internal/monitoring"
	"github.com/abusegal/telefeed/internal/retention"
	"github.com/abusegal/telefeed/internal/storage"
)

// Fixed marker phrases. A post containing either is sponsored content; it is
// dropped together with the post immediately after it (the source pairs every
// sponsored post with a follow-up, so the heuristic drops both unconditionally).
var sponsorMarkers = []string{"תוכן שיווקי", "תוכן ממומן"}

// boilerplate is a fixed call-to-action phrase stripped from post text.
const boilerplate = "כדי להגיב לכתבה לחצו כאן"

const colorBuckets = 5

var (
	reHashRun = regexp.MustCompile(`(#{2,})`)
	reURL     = regexp.MustCompile(`(https?://[^\s<]+)`)
)

type Renderer struct {
	store    *storage.Store
	window   retention.Window
	channels []string
	log      *logrus.Logger
}

// NewRenderer builds a renderer. The channel list order assigns the per-channel
// display color buckets.
func NewRenderer(store *storage.Store, window retention.Window, channels []string) *Renderer {
	return &Renderer{store: store, window: window, channels: channels, log: logging.L()}
}

// Render queries all posts inside the retention window and produces the full
// HTML document. Pure with respect to the store: no writes.
func (r *Renderer) Render(ctx context.Context, lang string) (string, error) {
	start := time.Now()
	defer func() {
		monitoring.RenderDuration.Observe(time.Since(start).Seconds())
	}()

	posts, err := r.store.PostsSince(ctx, r.window.Cutoff())
	if err != nil {
		return "", fmt.Errorf("load feed posts: %w", err)
	}
	// Chronological, oldest first.
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Date.Before(posts[j].Date) })
	posts = dropSponsored(posts)

	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		views = append(views, postView{
			Channel:    p.ChannelID,
			ColorIndex: r.colorIndex(p.ChannelID),
			Date:       p.Date.In(r.window.Location).Format("02.01.06 15:04"),
			RTL:        hasHebrew(p.Text),
			Text:       processText(p.Text),
			Images:     p.Images,
			VideoURL:   p.VideoURL,
			Files:      p.Files,
		})
	}

	data := pageView{
		Posts:        views,
		WatchVideo:   l10n.T(lang, "feed.watch_video"),
		DownloadFile: l10n.T(lang, "feed.download_file"),
		Empty:        l10n.T(lang, "feed.empty"),
	}
	var sb strings.Builder
	if err := feedTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render feed: %w", err)
	}
	return sb.String(), nil
}

// dropSponsored removes each marker post and, unconditionally, the post
// immediately following it in ascending-date order. Behavior is preserved
// exactly from the source deployment's posting pattern.
func dropSponsored(posts []storage.Post) []storage.Post {
	cleaned := make([]storage.Post, 0, len(posts))
	skipNext := false
	for _, p := range posts {
		if skipNext {
			skipNext = false
			continue
		}
		if isSponsored(p.Text) {
			skipNext = true
			continue
		}
		cleaned = append(cleaned, p)
	}
	return cleaned
}

func isSponsored(text string) bool {
	for _, marker := range sponsorMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// colorIndex maps a channel to its display color bucket: position in the
// configured list modulo 5, defaulting to 0 for unlisted channels.
func (r *Renderer) colorIndex(channelID string) int {
	name := strings.TrimPrefix(channelID, "@")
	for i, ch := range r.channels {
		if strings.TrimPrefix(ch, "@") == name {
			return i % colorBuckets
		}
	}
	return 0
}

// hasHebrew reports whether the text contains any character in the Hebrew
// Unicode block, which switches the post to RTL alignment.
func hasHebrew(text string) bool {
	for _, r := range text {
		if r >= 0x0590 && r <= 0x05FF {
			return true
		}
	}
	return false
}

// processText strips the boilerplate phrase, escapes the text, then inserts
// breaks around heading-marker runs and turns bare URLs into links. The
// result is marked safe because everything user-controlled was escaped first.
func processText(text string) htmltemplate.HTML {
	t := strings.ReplaceAll(text, boilerplate, "")
	t = htmltemplate.HTMLEscapeString(t)
	t = reHashRun.ReplaceAllString(t, "<br>$1<br>")
	t = reURL.ReplaceAllString(t, `<a href="$1" target="_blank">$1</a>`)
	return htmltemplate.HTML(t)
}

type postView struct {
	Channel    string
	ColorIndex int
	Date       string
	RTL        bool
	Text       htmltemplate.HTML
	Images     []string
	VideoURL   string
	Files      []string
}

type pageView struct {
	Posts        []postView
	WatchVideo   string
	DownloadFile string
	Empty        string
}

var feedTemplate = htmltemplate.Must(htmltemplate.New("feed").Parse(`<html>
<head>
    <meta charset="UTF-8">
    <style>
        /* Telegram-like background and styles */
        html, body {
            height: 100%;
            margin: 0;
            padding: 0;
            font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif;
            background-color: #eaeaea;
            background-image: url('https://i.imgur.com/7JtPOg5.png');
            background-size: cover;
            background-repeat: no-repeat;
            background-attachment: fixed;
            background-position: center center;
        }
        .container { max-width: 700px; margin: 0 auto; padding: 20px; }
        .post {
            background-color: white;
            border-radius: 8px;
            padding: 15px;
            margin-bottom: 15px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            max-width: 100%;
        }
        .channel-0 { font-weight: bold; color: #8B0000; margin-bottom: 5px; }
        .channel-1 { font-weight: bold; color: #00008B; margin-bottom: 5px; }
        .channel-2 { font-weight: bold; color: #006400; margin-bottom: 5px; }
        .channel-3 { font-weight: bold; color: #FF8C00; margin-bottom: 5px; }
        .channel-4 { font-weight: bold; color: black; margin-bottom: 5px; }
        .date { color: #999; font-size: 0.85em; margin-bottom: 10px; }
        .rtl { direction: rtl; text-align: right; }
        a { color: #4a76a8; text-decoration: none; }
        a:hover { text-decoration: underline; }
        .post img {
            max-width: 100%;
            height: auto;
            margin-top: 10px;
            border-radius: 8px;
            box-shadow: 0 1px 2px rgba(0,0,0,0.1);
        }
    </style>
    <script>
        window.onload = function() {
            window.scrollTo(0, document.body.scrollHeight);
        };
    </script>
</head>
<body>
    <div class="container">
{{- if not .Posts}}
        <div class="post">
            <p>{{.Empty}}</p>
        </div>
{{- end}}
{{- range .Posts}}
        <div class="post{{if .RTL}} rtl{{end}}">
            <div class="channel-{{.ColorIndex}}">{{.Channel}}</div>
            <div class="date">{{.Date}}</div>
            <p>{{.Text}}</p>
{{- range .Images}}
            <img src="{{.}}" alt="Telegram Image"/>
{{- end}}
{{- if .VideoURL}}
            <br><a href="{{.VideoURL}}" target="_blank">{{$.WatchVideo}}</a>
{{- end}}
{{- range .Files}}
            <br><a href="{{.}}" target="_blank">{{$.DownloadFile}}</a>
{{- end}}
        </div>
{{- end}}
    </div>
</body>
</html>
`))
