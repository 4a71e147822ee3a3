package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"FiveSBot/internal/ports"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a thin wrapper over the Telegram bot API, covering only the
// methods this bot uses.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ ports.ProgressRenderer = (*Client)(nil)

// NewClient registers the bot token. The HTTP timeout leaves room for
// long-poll getUpdates calls.
func NewClient(token string) *Client {
	return NewClientWithBaseURL(token, defaultBaseURL)
}

// NewClientWithBaseURL points the client at a different API host, used by
// tests.
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, form url.Values, out interface{}) error {
	if c.token == "" {
		return fmt.Errorf("telegram client misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram %s: %s", method, parsed.Description)
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Update is one long-poll event.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

// IncomingMessage carries the fields the bot reads from chat messages.
type IncomingMessage struct {
	MessageID    int64       `json:"message_id"`
	From         *User       `json:"from"`
	Chat         Chat        `json:"chat"`
	Date         int64       `json:"date"`
	Text         string      `json:"text"`
	Caption      string      `json:"caption"`
	MediaGroupID string      `json:"media_group_id"`
	Photo        []PhotoSize `json:"photo"`
}

// User identifies the message sender.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies the group or private chat.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one rendition of a photo; Telegram lists them smallest first.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type file struct {
	FilePath string `json:"file_path"`
}

// GetUpdates long-polls for new events starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	form.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	form.Set("allowed_updates", `["message"]`)

	var updates []Update
	if err := c.call(ctx, "getUpdates", form, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send posts text to a chat and returns the message id as an opaque handle
// for later edits.
func (c *Client) Send(ctx context.Context, chatID, text string) (string, error) {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	var msg struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", form, &msg); err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// Edit replaces the text of a previously sent message.
func (c *Client) Edit(ctx context.Context, chatID, handle, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("message_id", handle)
	form.Set("text", text)
	return c.call(ctx, "editMessageText", form, nil)
}

// Reply posts text as a reply to an existing message.
func (c *Client) Reply(ctx context.Context, chatID string, replyTo int64, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	if replyTo != 0 {
		form.Set("reply_to_message_id", strconv.FormatInt(replyTo, 10))
	}
	return c.call(ctx, "sendMessage", form, nil)
}

// DownloadPhoto fetches the raw bytes of a photo by file id.
func (c *Client) DownloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	form := url.Values{}
	form.Set("file_id", fileID)

	var f file
	if err := c.call(ctx, "getFile", form, &f); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new download request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
