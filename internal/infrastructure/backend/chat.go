package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/chatphantom/phantomchat/internal/domain/chat/models"
)

// StreamChat submits a turn and returns the push stream body once the
// backend has accepted the request. The caller must close it. Cancelling
// ctx aborts the stream.
func (c *Client) StreamChat(ctx context.Context, chatReq models.ChatRequest) (io.ReadCloser, error) {
	if chatReq.Messages == nil {
		chatReq.Messages = []models.Message{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat", nil, chatReq)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.do(req, groupChat)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchHistory requests one page of messages older than before. A nil or
// empty before requests the newest page.
func (c *Client) FetchHistory(ctx context.Context, resourceID string, before *models.Cursor, limit int) (*models.HistoryPage, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("resource id is required")
	}

	query := url.Values{}
	if before != nil && *before != "" {
		query.Set("before_timestamp", before.String())
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page models.HistoryPage
	path := "/chat/" + url.PathEscape(resourceID) + "/history"
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &page, groupHistory); err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", resourceID, err)
	}
	return &page, nil
}
