package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token  string
	ChatID string
	// APIBase overrides DefaultTelegramAPI.
	APIBase string
}

// TelegramChannel sends a text alert, the captured photo and the
// installation's location through the Telegram Bot API.
type TelegramChannel struct {
	cfg    TelegramConfig
	client *http.Client
	geo    Geolocator
}

var _ Channel = (*TelegramChannel)(nil)

// NewTelegramChannel returns a channel. geo may be nil.
func NewTelegramChannel(cfg TelegramConfig, geo Geolocator) *TelegramChannel {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTelegramAPI
	}
	return &TelegramChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		geo:    geo,
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *TelegramChannel) WithHTTPClient(client *http.Client) *TelegramChannel {
	c.client = client
	return c
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Configured() bool {
	return c.cfg.Token != "" && c.cfg.ChatID != ""
}

// Send posts the caption, then the photo, then the location if known.
// The first failing call aborts the rest.
func (c *TelegramChannel) Send(ctx context.Context, a Alert) error {
	var loc *Location
	if c.geo != nil {
		l, err := c.geo.Locate(ctx)
		if err != nil {
			slog.Warn("geolocation failed, sending alert without location", "error", err)
		} else {
			loc = &l
		}
	}

	caption := telegramCaption(a, loc)
	if err := c.call(ctx, "sendMessage", url.Values{
		"chat_id": {c.cfg.ChatID},
		"text":    {caption},
	}); err != nil {
		return err
	}
	if err := c.sendPhoto(ctx, a.ImagePath, caption); err != nil {
		return err
	}
	if loc != nil && (loc.Latitude != 0 || loc.Longitude != 0) {
		return c.call(ctx, "sendLocation", url.Values{
			"chat_id":   {c.cfg.ChatID},
			"latitude":  {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
			"longitude": {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		})
	}
	return nil
}

func telegramCaption(a Alert, loc *Location) string {
	var b strings.Builder
	b.WriteString("Intruder Alert!")
	if a.Identity != "" {
		fmt.Fprintf(&b, "\nClosest match: %s (%.2f)", a.Identity, a.Score)
	}
	if !a.DetectedAt.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", a.DetectedAt.Format("2006-01-02 15:04:05"))
	}
	if loc != nil {
		fmt.Fprintf(&b, "\n\nLocation: %s", loc.Label())
	}
	return b.String()
}

func (c *TelegramChannel) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.Token, method)
}

func (c *TelegramChannel) call(ctx context.Context, method string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(method, req)
}

func (c *TelegramChannel) sendPhoto(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", c.cfg.ChatID); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	if err := w.WriteField("caption", caption); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do("sendPhoto", req)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *TelegramChannel) do(method string, req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error carries the request URL, which embeds the bot token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%s: status %d: decode: %w", method, resp.StatusCode, err)
	}
	if !body.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, body.Description)
	}
	return nil
}
