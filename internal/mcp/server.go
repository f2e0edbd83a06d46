// Package mcp exposes the stored feed to MCP clients as read-only tools.
package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/abusegal/telefeed/internal/retention"
	"github.com/abusegal/telefeed/internal/storage"
)

type Server struct {
	mcpServer *mcp.Server
	store     *storage.Store
	window    retention.Window
	channels  []string
}

func New(store *storage.Store, window retention.Window, channels []string) (*Server, error) {
	s := &Server{
		store:    store,
		window:   window,
		channels: channels,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "telefeed",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_posts",
		Description: "List stored posts inside the retention window, newest first",
	}, s.listPosts)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_post",
		Description: "Get one stored post by channel and message id",
	}, s.getPost)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_channels",
		Description: "List the configured channels and their stored post counts",
	}, s.listChannels)

	s.mcpServer = mcpServer
	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) HandleSSE() http.Handler {
	return mcp.NewSSEHandler(func(request *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

type ListPostsArgs struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}

func (s *Server) listPosts(ctx context.Context, request *mcp.CallToolRequest, input ListPostsArgs) (*mcp.CallToolResult, any, error) {
	var posts []storage.Post
	query := s.store.DB.WithContext(ctx).
		Where("date > ?", s.window.Cutoff()).
		Order("date DESC")
	if input.Channel != "" {
		query = query.Where("channel_id = ?", input.Channel)
	}
	if input.Limit > 0 {
		query = query.Limit(input.Limit)
	}
	if err := query.Find(&posts).Error; err != nil {
		return nil, nil, err
	}
	return nil, posts, nil
}

type GetPostArgs struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

func (s *Server) getPost(ctx context.Context, request *mcp.CallToolRequest, input GetPostArgs) (*mcp.CallToolResult, any, error) {
	post, err := s.store.GetPost(ctx, storage.PostKey(input.Channel, input.ID))
	if err != nil {
		return nil, nil, err
	}
	return nil, post, nil
}

type ListChannelsArgs struct{}

type ChannelInfo struct {
	Channel string `json:"channel"`
	Posts   int64  `json:"posts"`
}

func (s *Server) listChannels(ctx context.Context, request *mcp.CallToolRequest, input ListChannelsArgs) (*mcp.CallToolResult, any, error) {
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		n, err := s.store.CountPosts(ctx, ch)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, ChannelInfo{Channel: ch, Posts: n})
	}
	return nil, out, nil
}
