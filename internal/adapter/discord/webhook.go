package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/notify"
)

// MaxMessageRunes is the longest content Discord accepts in one message.
const MaxMessageRunes = 2000

const imageName = "image.png"

// Webhook posts alerts to a Discord webhook URL.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook channel.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements notify.Channel.
func (w *Webhook) Name() string { return "discord" }

// Send posts the alert text in blocks of MaxMessageRunes. The first block
// carries the image, embedded through an attachment reference.
func (w *Webhook) Send(ctx context.Context, alert notify.Alert) error {
	blocks := notify.Chunks(alert.Text, MaxMessageRunes)
	if len(blocks) == 0 {
		blocks = []string{""}
	}
	for i, block := range blocks {
		var err error
		if i == 0 && len(alert.Image) > 0 {
			err = w.postWithImage(ctx, block, alert.Image)
		} else {
			err = w.postText(ctx, block)
		}
		if err != nil {
			return fmt.Errorf("discord block %d: %w", i+1, err)
		}
	}
	return nil
}

func (w *Webhook) postText(ctx context.Context, content string) error {
	body, err := json.Marshal(payload{Content: content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return w.post(ctx, "application/json", bytes.NewReader(body))
}

func (w *Webhook) postWithImage(ctx context.Context, content string, image []byte) error {
	p := payload{
		Content: content,
		Embeds:  []embed{{Image: &embedImage{URL: "attachment://" + imageName}}},
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create payload part: %w", err)
	}
	if _, err := part.Write(payloadJSON); err != nil {
		return fmt.Errorf("write payload part: %w", err)
	}

	file, err := mw.CreateFormFile("image", imageName)
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := file.Write(image); err != nil {
		return fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	return w.post(ctx, mw.FormDataContentType(), &buf)
}

func (w *Webhook) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API error: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

type payload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Image *embedImage `json:"image,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}
