package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/notify"
)

// MaxMessageRunes is the longest message LINE Notify accepts in one request.
const MaxMessageRunes = 1000

// Notify posts alerts through the LINE Notify API with a personal access token.
type Notify struct {
	token      string
	endpoint   string
	httpClient *http.Client
}

// NewNotify creates a LINE Notify channel posting to endpoint.
func NewNotify(endpoint, token string, timeout time.Duration) *Notify {
	return &Notify{
		token:      token,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements notify.Channel.
func (n *Notify) Name() string { return "line" }

// Send posts the alert in blocks of MaxMessageRunes, attaching the image to
// the first block.
func (n *Notify) Send(ctx context.Context, alert notify.Alert) error {
	for i, block := range notify.Chunks(alert.Text, MaxMessageRunes) {
		var err error
		if i == 0 && len(alert.Image) > 0 {
			err = n.postWithImage(ctx, block, alert.Image)
		} else {
			form := url.Values{"message": {block}}
			err = n.post(ctx, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
		}
		if err != nil {
			return fmt.Errorf("line block %d: %w", i+1, err)
		}
	}
	return nil
}

func (n *Notify) postWithImage(ctx context.Context, message string, image []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("message", message); err != nil {
		return fmt.Errorf("write message field: %w", err)
	}
	file, err := mw.CreateFormFile("imageFile", "image.png")
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := file.Write(image); err != nil {
		return fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return n.post(ctx, mw.FormDataContentType(), &buf)
}

func (n *Notify) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("line API error: status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("line API error: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}

type apiResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}
