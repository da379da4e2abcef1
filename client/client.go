// Package client is the typed REST client for the conversation server. It
// is the only place the chat engine touches the network.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cookshare/messaging/api"
	"github.com/cookshare/messaging/chat"
)

// Config assembles a Client.
type Config struct {
	BaseURL  string
	UserID   string
	UserName string

	// HTTPClient carries the request timeout. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// A Client talks to the conversation server on behalf of one user. It
// implements chat.Service.
type Client struct {
	baseURL  string
	userID   string
	userName string
	httpc    *http.Client
	logger   *slog.Logger
}

// New builds a Client.
func New(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		userID:   cfg.UserID,
		userName: cfg.UserName,
		httpc:    httpc,
		logger:   logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("X-User-Name", c.userName)
	return req, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
			return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Conversation fetches the messages exchanged with the partner, oldest
// first. The synchronizer calls this on every poll tick.
func (c *Client) Conversation(ctx context.Context, partnerID string, limit, offset int) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := "/conversations/" + url.PathEscape(partnerID) + "/messages?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Messages []api.Message `json:"messages"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return fromAPIList(body.Messages), nil
}

// Send posts one message. Local attachment files are uploaded as
// multipart parts; the server answers with the confirmed message carrying
// its assigned id.
func (c *Client) Send(ctx context.Context, sr chat.SendRequest) (chat.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"receiver_id": sr.PartnerID,
		"content":     sr.Content,
		"type":        string(sr.Type),
	}
	if sr.ReplyToID != "" {
		fields["reply_to_id"] = sr.ReplyToID
	}
	if sr.VoiceDuration > 0 {
		fields["media_duration"] = strconv.Itoa(sr.VoiceDuration)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return chat.Message{}, fmt.Errorf("write field: %w", err)
		}
	}

	if sr.ImageURI != "" {
		if err := attachFile(w, "image", sr.ImageURI); err != nil {
			return chat.Message{}, err
		}
	}
	if sr.VoiceURI != "" {
		if err := attachFile(w, "voice", sr.VoiceURI); err != nil {
			return chat.Message{}, err
		}
	}
	if err := w.Close(); err != nil {
		return chat.Message{}, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/messages", &buf)
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var msg api.Message
	if err := c.do(req, http.StatusCreated, &msg); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	return fromAPI(msg), nil
}

func attachFile(w *multipart.Writer, field, uri string) error {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy attachment: %w", err)
	}
	return nil
}

// ToggleReaction flips the caller's reaction on a message. The returned
// bool is the server's view of whether the reaction is applied afterwards.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"emoji": emoji})
	if err != nil {
		return false, fmt.Errorf("encode body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/reactions", bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Applied bool `json:"applied"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return false, fmt.Errorf("toggle reaction: %w", err)
	}
	return body.Applied, nil
}

// Delete recalls a message.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteConversation removes every message exchanged with the partner and
// returns the deleted count.
func (c *Client) DeleteConversation(ctx context.Context, partnerID string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(partnerID), nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return body.DeletedCount, nil
}

// Conversations fetches the conversation list for the index screen.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Conversations []api.ConversationSummary `json:"conversations"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]Conversation, len(body.Conversations))
	for i, cs := range body.Conversations {
		conv := Conversation{
			PartnerID:   cs.PartnerID,
			UnreadCount: cs.UnreadCount,
		}
		if cs.LastMessage != nil {
			last := fromAPI(*cs.LastMessage)
			conv.LastMessage = &last
		}
		out[i] = conv
	}
	return out, nil
}

// UnreadCount returns the number of unread messages across all
// conversations.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/messages/unread-count", nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return body.UnreadCount, nil
}
