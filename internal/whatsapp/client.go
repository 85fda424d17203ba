// Package whatsapp talks to the WhatsApp Business Cloud API: sending
// replies, downloading inbound media and decoding webhook payloads.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"hkbot/internal/domain"
)

// maxMediaBytes bounds media downloads; the platform caps audio and video at 16 MB.
const maxMediaBytes = 32 << 20

type Config struct {
	AccessToken   string
	PhoneNumberID string
	APIBase       string  // default https://graph.facebook.com
	APIVersion    string  // default v21.0
	RatePerSecond float64 // 0 = unlimited
	Burst         int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client implements domain.Sender and domain.MediaFetcher.
type Client struct {
	token   string
	phoneID string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		token:   cfg.AccessToken,
		phoneID: cfg.PhoneNumberID,
		baseURL: strings.TrimRight(cfg.APIBase, "/") + "/" + cfg.APIVersion,
		http:    cfg.HTTPClient,
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

// SendText sends a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": text},
	})
}

// SendImage sends an image by public link, with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) error {
	image := map[string]string{"link": imageURL}
	if caption != "" {
		image["caption"] = caption
	}
	return c.send(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	})
}

func (c *Client) send(ctx context.Context, payload map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	c.logger.Debug("whatsapp message sent", "to", payload["to"], "type", payload["type"])
	return nil
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// FetchMedia resolves a media id to its download URL and downloads it.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) (*domain.Media, error) {
	var info mediaInfo
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s", c.baseURL, mediaID), &info); err != nil {
		return nil, fmt.Errorf("media info %s: %w", mediaID, err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media info %s: no download url", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media %s: status %d", mediaID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", mediaID, err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media %s exceeds %s", mediaID, humanize.IBytes(maxMediaBytes))
	}

	mime := info.MimeType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	c.logger.Debug("media downloaded", "id", mediaID, "mime", mime, "size", humanize.Bytes(uint64(len(data))))
	return &domain.Media{Data: data, MimeType: mime, SHA256: info.SHA256}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
