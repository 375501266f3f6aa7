package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"cardtracker/models"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultMaxTokens = 500

	maxResponseBytes = 1 << 20
)

// Unavailable is the soft-failure reason when extraction is disabled or has
// no credentials.
const Unavailable = "vision service not available"

type Config struct {
	APIKey    string
	Enabled   bool
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
	Detail    string
}

// Extraction is the outcome of one extraction attempt. Exactly one of
// Metadata or Err is set; a failed attempt is not an error for the caller.
type Extraction struct {
	Metadata   *models.CardMetadata
	Confidence *models.Confidence
	Notes      string
	Err        string
}

func (e Extraction) OK() bool { return e.Metadata != nil }

func failed(format string, args ...any) Extraction {
	return Extraction{Err: fmt.Sprintf(format, args...)}
}

// Extractor reads card metadata out of an image using an OpenAI compatible
// chat completions endpoint. One request per call, no retries.
type Extractor struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Detail == "" {
		cfg.Detail = "high"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "vision"),
	}
}

func (e *Extractor) Available() bool {
	return e.cfg.Enabled && e.cfg.APIKey != ""
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends a JPEG image to the vision model and parses the reply.
func (e *Extractor) Extract(ctx context.Context, image []byte) Extraction {
	if !e.Available() {
		return Extraction{Err: Unavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
					Detail: e.cfg.Detail,
				}},
			}},
		},
		MaxTokens:      e.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return failed("marshal vision request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return failed("create vision request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return failed("vision API request timed out after %s", e.cfg.Timeout)
		}
		return failed("vision API error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return failed("vision API request timed out after %s", e.cfg.Timeout)
		}
		return failed("read vision response: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return failed("vision API error: status %d: %s", resp.StatusCode, snippet(payload))
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return failed("failed to parse vision API response: %v", err)
	}
	if len(out.Choices) == 0 {
		return failed("vision API returned no choices")
	}

	md, confidence, notes, err := ParseResponse(out.Choices[0].Message.Content)
	if err != nil {
		return failed("failed to parse vision API response: %v", err)
	}

	player := "unknown"
	if md.PlayerName != nil {
		player = *md.PlayerName
	}
	e.logger.Info("extracted card metadata",
		"confidence", confidence,
		"player", player,
		"duration", time.Since(start))

	return Extraction{Metadata: md, Confidence: &confidence, Notes: notes}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
