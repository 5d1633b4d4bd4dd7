// Package ai wraps the chat-completion provider for the four generation
// tasks: free question answer, ascendant, natal chart and card of the day.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Alexbaranow/arkana-women-bot/internal/models"
)

// ErrRateLimited marks provider 429 responses so handlers can answer with
// a dedicated message instead of a generic 500.
var ErrRateLimited = errors.New("provider rate limited")

// ErrEmptyResponse is returned when the provider produced no extractable
// text even after the retry.
var ErrEmptyResponse = errors.New("empty response from provider")

const (
	answerMaxTokens    = 500
	ascendantMaxTokens = 600
	natalMaxTokens     = 1200
	cardMaxTokens      = 700

	// Delay before the single retry on an empty completion.
	retryDelay = 1200 * time.Millisecond
)

const answerSystemPrompt = `Ты — мудрый и добрый помощник в стиле таро и интуитивных практик. Отвечай кратко (2–4 абзаца), по-русски, тёплым и поддерживающим тоном. Не обещай точных предсказаний, но давай вдохновляющие подсказки и размышления. Не используй списки и буллеты, пиши сплошным текстом.`

const ascendantSystemPrompt = `Ты — опытный астролог. По дате, месту и (если указано) времени рождения определи знак асцендента. Ответь строго JSON-объектом вида {"sign": "...", "description": "..."} без пояснений вокруг: sign — название знака по-русски, description — 2–3 тёплых предложения о том, как этот асцендент проявляется.`

const natalSystemPrompt = `Ты — опытный астролог. Составь по дате, месту и (если указано) времени рождения краткую натальную карту по-русски: основные акценты личности, сильные стороны и зоны роста. Пиши сплошным текстом, 3–5 абзацев, тёплым тоном, без списков.`

const cardSystemPrompt = `Ты — таролог. Составь «карту дня»: вытяни одну карту таро и опиши её послание на сегодня по-русски, 2–3 абзаца, тёплым и поддерживающим тоном, сплошным текстом. Учитывай данные натальной карты, если они переданы.`

type Client struct {
	client *openai.Client
	model  string
}

// CardParams carries the optional context for the card-of-the-day task.
type CardParams struct {
	UserName      string
	Ascendant     *models.Ascendant
	NatalChart    string
	TarotCardName string
}

func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, "")
}

// NewClientWithBaseURL points the client at an OpenAI-compatible proxy.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  "gpt-4o-mini",
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// Answer generates the free-question answer.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	return c.complete(ctx, answerSystemPrompt, strings.TrimSpace(question), answerMaxTokens)
}

// Ascendant determines the ascendant sign and a short description.
func (c *Client) Ascendant(ctx context.Context, dateOfBirth, placeOfBirth, timeOfBirth string) (*models.Ascendant, error) {
	prompt := fmt.Sprintf("Дата рождения: %s\nМесто рождения: %s\n", dateOfBirth, placeOfBirth)
	if timeOfBirth != "" {
		prompt += fmt.Sprintf("Время рождения: %s\n", timeOfBirth)
	} else {
		prompt += "Время рождения неизвестно — возьми полдень.\n"
	}

	raw, err := c.complete(ctx, ascendantSystemPrompt, prompt, ascendantMaxTokens)
	if err != nil {
		return nil, err
	}
	ascendant, err := parseAscendant(raw)
	if err != nil {
		return nil, err
	}
	return ascendant, nil
}

// NatalChart generates the natal-chart narrative.
func (c *Client) NatalChart(ctx context.Context, dateOfBirth, placeOfBirth, timeOfBirth string) (string, error) {
	prompt := fmt.Sprintf("Дата рождения: %s\nМесто рождения: %s\n", dateOfBirth, placeOfBirth)
	if timeOfBirth != "" {
		prompt += fmt.Sprintf("Время рождения: %s\n", timeOfBirth)
	}
	return c.complete(ctx, natalSystemPrompt, prompt, natalMaxTokens)
}

// CardOfTheDay generates the card-of-the-day narrative.
func (c *Client) CardOfTheDay(ctx context.Context, params CardParams) (string, error) {
	var sb strings.Builder
	if params.UserName != "" {
		fmt.Fprintf(&sb, "Имя: %s\n", params.UserName)
	}
	if params.Ascendant != nil {
		fmt.Fprintf(&sb, "Асцендент: %s. %s\n", params.Ascendant.Sign, params.Ascendant.Description)
	}
	if params.NatalChart != "" {
		fmt.Fprintf(&sb, "Из натальной карты: %s\n", params.NatalChart)
	}
	if params.TarotCardName != "" {
		fmt.Fprintf(&sb, "Выпавшая карта: %s\n", params.TarotCardName)
	}
	if sb.Len() == 0 {
		sb.WriteString("Составь карту дня.")
	}
	return c.complete(ctx, cardSystemPrompt, sb.String(), cardMaxTokens)
}

// complete performs one chat completion with a single retry on an empty
// response. A second empty response is a hard failure carrying the
// provider's finish reason.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	var finishReason openai.FinishReason
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			MaxTokens: maxTokens,
		})
		if err != nil {
			if isRateLimit(err) {
				return "", ErrRateLimited
			}
			return "", err
		}

		if len(resp.Choices) > 0 {
			finishReason = resp.Choices[0].FinishReason
			if content := strings.TrimSpace(resp.Choices[0].Message.Content); content != "" {
				return content, nil
			}
		}
	}
	return "", fmt.Errorf("%w (finish reason: %s)", ErrEmptyResponse, finishReason)
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429
	}
	return false
}
