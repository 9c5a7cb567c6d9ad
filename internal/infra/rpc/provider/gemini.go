package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/vietddude/narrator/internal/core/domain"
)

// GeminiSynthesizer implements Synthesizer with the Gemini text-to-speech models.
type GeminiSynthesizer struct {
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client // secret -> client
}

// NewGeminiSynthesizer creates a synthesizer. timeout bounds a single call (0 = no bound).
func NewGeminiSynthesizer(timeout time.Duration, log *slog.Logger) *GeminiSynthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &GeminiSynthesizer{
		timeout: timeout,
		log:     log,
		clients: make(map[string]*genai.Client),
	}
}

// Synthesize generates speech for one line.
func (s *GeminiSynthesizer) Synthesize(
	ctx context.Context,
	secret string,
	line domain.ScriptLine,
	params Params,
) (*domain.Artifact, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	client, err := s.client(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	text := strings.TrimSpace(line.Text)
	if params.Style != "" {
		text = params.Style + ": " + text
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: params.LanguageCode,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: params.Voice},
			},
		},
	}

	result, err := client.Models.GenerateContent(ctx, params.Model, genai.Text(text), config)
	if err != nil {
		return nil, s.wrapError(err, secret)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		rate := sampleRateFromMIME(part.InlineData.MIMEType)
		return &domain.Artifact{
			MIMEType:   "audio/wav",
			Data:       EncodeWAV(part.InlineData.Data, rate),
			SampleRate: rate,
		}, nil
	}

	return nil, fmt.Errorf("no audio in Gemini response")
}

func (s *GeminiSynthesizer) client(ctx context.Context, secret string) (*genai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[secret]; ok {
		return c, nil
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  secret,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	s.clients[secret] = c
	return c, nil
}

// wrapError turns SDK errors into RemoteError so they can be classified.
func (s *GeminiSynthesizer) wrapError(err error, secret string) error {
	hint := redactSecret(secret)

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return FromAPIError(apiErr, hint)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return FromAPIError(*apiErrPtr, hint)
	}

	s.log.Debug("Unstructured synthesis error", "error", err)
	return fmt.Errorf("generate content: %w", err)
}

func redactSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:8] + "..."
}
