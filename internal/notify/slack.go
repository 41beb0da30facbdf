// Package notify delivers trade and error notifications to Slack.
//
// Notifications are strictly advisory: a failed delivery is logged and
// dropped, never allowed to interrupt the trading loop. The zero-value
// disabled notifier is a safe no-op for tests and local runs.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	defaultAPIURL  = "https://slack.com/api"
	defaultTimeout = 10 * time.Second

	// ChannelTrades receives routine trade and snapshot messages.
	ChannelTrades = "#crypto-bot"

	// ChannelAlerts receives high-priority error notifications.
	ChannelAlerts = "#crypto-bot-alerts"
)

// Slack posts messages and chart images through the Slack Web API.
type Slack struct {
	token   string
	apiURL  string
	enabled bool
	client  *http.Client
}

// NewSlack creates a notifier authenticated with a bot token. An empty
// token yields a disabled notifier that silently drops everything.
func NewSlack(token string) *Slack {
	enabled := token != ""
	if !enabled {
		log.Warn().Msg("no Slack token configured, notifications disabled")
	}
	return &Slack{
		token:   token,
		apiURL:  defaultAPIURL,
		enabled: enabled,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// slackResponse is the envelope every Web API method returns.
type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Notify posts a text message to a channel. Delivery failures are logged
// and swallowed.
func (s *Slack) Notify(message, channel string) {
	if !s.enabled {
		return
	}
	if err := s.postMessage(message, channel); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to send Slack message")
		return
	}
	log.Debug().Str("channel", channel).Msg("Slack message sent")
}

func (s *Slack) postMessage(message, channel string) error {
	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	return s.do(req)
}

// UploadImage posts an image file (typically a crossover chart) to a
// channel with a title and comment. Failures are logged and swallowed.
func (s *Slack) UploadImage(path, title, comment, channel string) {
	if !s.enabled {
		return
	}
	if err := s.uploadFile(path, title, comment, channel); err != nil {
		log.Error().Err(err).Str("path", path).Str("channel", channel).Msg("failed to upload image to Slack")
		return
	}
	log.Debug().Str("path", path).Str("channel", channel).Msg("Slack image uploaded")
}

func (s *Slack) uploadFile(path, title, comment, channel string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	fields := url.Values{
		"channels":        {channel},
		"title":           {title},
		"initial_comment": {comment},
	}
	for name := range fields {
		if err := w.WriteField(name, fields.Get(name)); err != nil {
			return fmt.Errorf("write form field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL+"/files.upload", &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token)

	return s.do(req)
}

// do executes a request and decodes the Slack API envelope, turning
// ok=false responses into errors.
func (s *Slack) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API status %d: %s", resp.StatusCode, body)
	}
	var sr slackResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !sr.OK {
		return errors.New("slack API error: " + sr.Error)
	}
	return nil
}
