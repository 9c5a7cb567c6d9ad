// Package provider implements the remote speech synthesis boundary.
//
// This package contains:
//   - Synthesizer interface: one remote call per script line with a given credential
//   - GeminiSynthesizer: text-to-speech through google.golang.org/genai
//   - RemoteError: the structured failure every implementation returns
//   - WAV encoding of raw PCM responses
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
)

// Params are the generation parameters passed with each call.
type Params struct {
	Model        string
	Voice        string
	LanguageCode string
	// Style is an optional delivery instruction prepended to the text (e.g. "Say calmly").
	Style string
}

// Synthesizer turns one script line into audio using the given credential.
type Synthesizer interface {
	Synthesize(
		ctx context.Context,
		secret string,
		line domain.ScriptLine,
		params Params,
	) (*domain.Artifact, error)
}

// RemoteError is the structured failure of a remote call.
type RemoteError struct {
	// StatusCode is the HTTP-like status (429, 403, ...). 0 when unknown.
	StatusCode int
	// Code is the machine-readable category (e.g. "RESOURCE_EXHAUSTED").
	Code string
	// Reason is the machine-readable ErrorInfo reason (e.g. "API_KEY_INVALID").
	Reason  string
	Message string
	// RetryAfter is the server-provided retry interval. 0 when absent.
	RetryAfter time.Duration
	// Credential is a redacted prefix of the credential used.
	Credential string
}

func (e *RemoteError) Error() string {
	s := fmt.Sprintf("remote error %d", e.StatusCode)
	if e.Code != "" {
		s += " " + e.Code
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		s += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return s
}
