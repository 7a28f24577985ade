package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// listPageSize is the page size used when List walks every page.
const listPageSize = 100

// HTTPStatusError captures a non-2xx response from the conversation API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("conversation api: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
}

// Client talks to the conversation REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("conversation: api base url must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type saveBody struct {
	SummaryID string             `json:"summaryId,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Title     string             `json:"title"`
	Messages  []chat.ChatMessage `json:"messages"`
}

// Save creates a conversation when req.ID is empty and saves over the
// existing one otherwise.
func (c *Client) Save(ctx context.Context, req SaveRequest) (chat.Conversation, error) {
	body := saveBody{
		SummaryID: req.SummaryID,
		UserID:    req.UserID,
		Title:     req.Title,
		Messages:  nonNilMessages(chat.StripTyping(req.Messages)),
	}

	endpoint := c.baseURL + "/conversations"
	if req.ID != "" {
		endpoint += "/" + url.PathEscape(req.ID) + "/save"
	}

	var conv chat.Conversation
	if err := c.do(ctx, http.MethodPost, endpoint, body, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// Load fetches a conversation with its messages.
func (c *Client) Load(ctx context.Context, id string) (chat.Conversation, error) {
	var conv chat.Conversation
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// Delete removes a conversation.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/conversations/"+url.PathEscape(id), nil, nil)
}

// ListPage fetches one zero-based page of a user's conversations.
func (c *Client) ListPage(ctx context.Context, userID string, page, size int) (chat.ConversationPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	endpoint := c.baseURL + "/users/" + url.PathEscape(userID) + "/conversations?" + query.Encode()

	var result chat.ConversationPage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return chat.ConversationPage{}, err
	}
	return result, nil
}

// List walks every page of a user's conversations.
func (c *Client) List(ctx context.Context, userID string) ([]chat.Conversation, error) {
	out := make([]chat.Conversation, 0)
	for page := 0; ; page++ {
		result, err := c.ListPage(ctx, userID, page, listPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, result.Content...)
		if page+1 >= result.TotalPages || len(result.Content) == 0 {
			return out, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("conversation api: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("conversation api: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("conversation api: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("conversation api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, endpoint, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("conversation api: decode response: %w", err)
	}
	return nil
}

func statusError(code int, endpoint string, raw []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}

	statusErr := &HTTPStatusError{StatusCode: code, URL: endpoint, Message: message}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, statusErr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, statusErr)
	case http.StatusBadRequest:
		for _, known := range []error{ErrTitleRequired, ErrSummaryRequired, ErrUserRequired, ErrSummaryMismatch} {
			if message == known.Error() {
				return fmt.Errorf("%w: %v", known, statusErr)
			}
		}
	}
	return statusErr
}
