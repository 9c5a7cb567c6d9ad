package routing

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/vietddude/narrator/internal/infra/rpc/provider"
)

func grpcErr(t *testing.T, code codes.Code, msg string, details ...*errdetails.RetryInfo) error {
	t.Helper()
	st := status.New(code, msg)
	for _, d := range details {
		var err error
		st, err = st.WithDetails(d)
		if err != nil {
			t.Fatalf("WithDetails: %v", err)
		}
	}
	return st.Err()
}

func TestClassify(t *testing.T) {
	quotaJSON := `generate content: Error 429: {"error": {"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED", ` +
		`"details": [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "42s"}]}}`

	tests := []struct {
		name       string
		err        error
		kind       FailureKind
		retryAfter time.Duration
	}{
		{
			name: "remote 429 with interval",
			err:  &provider.RemoteError{StatusCode: 429, Code: "RESOURCE_EXHAUSTED", RetryAfter: 12 * time.Second},
			kind: FailureRateLimited, retryAfter: 12 * time.Second,
		},
		{
			name: "remote 429 without interval",
			err:  &provider.RemoteError{StatusCode: 429, Message: "slow down"},
			kind: FailureRateLimited, retryAfter: DefaultRetryAfter,
		},
		{
			name: "remote 429 interval in message",
			err:  &provider.RemoteError{StatusCode: 429, Message: "Please retry in 8.2s."},
			kind: FailureRateLimited, retryAfter: 8200 * time.Millisecond,
		},
		{
			name: "wrapped remote error",
			err:  fmt.Errorf("line 3: %w", &provider.RemoteError{StatusCode: 403, Code: "PERMISSION_DENIED"}),
			kind: FailureInvalidCredential,
		},
		{
			name: "api key invalid reason",
			err:  &provider.RemoteError{StatusCode: 400, Code: "INVALID_ARGUMENT", Reason: "API_KEY_INVALID"},
			kind: FailureInvalidCredential,
		},
		{
			name: "entity not found",
			err:  &provider.RemoteError{StatusCode: 404, Code: "NOT_FOUND", Message: "Requested entity was not found."},
			kind: FailureInvalidCredential,
		},
		{
			name: "model not found is not an auth failure",
			err:  &provider.RemoteError{StatusCode: 404, Code: "NOT_FOUND", Message: "models/foo is not found"},
			kind: FailureOther,
		},
		{
			name: "remote 500",
			err:  &provider.RemoteError{StatusCode: 500, Code: "INTERNAL", Message: "internal"},
			kind: FailureOther,
		},
		{
			name: "genai api error",
			err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Details: []map[string]any{
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "5s"},
			}},
			kind: FailureRateLimited, retryAfter: 5 * time.Second,
		},
		{
			name: "grpc resource exhausted with retry info",
			err: grpcErr(t, codes.ResourceExhausted, "quota",
				&errdetails.RetryInfo{RetryDelay: durationpb.New(7 * time.Second)}),
			kind: FailureRateLimited, retryAfter: 7 * time.Second,
		},
		{
			name: "grpc unauthenticated",
			err:  grpcErr(t, codes.Unauthenticated, "bad key"),
			kind: FailureInvalidCredential,
		},
		{
			name: "grpc unavailable",
			err:  grpcErr(t, codes.Unavailable, "connection reset"),
			kind: FailureOther,
		},
		{
			name: "json payload in text",
			err:  errors.New(quotaJSON),
			kind: FailureRateLimited, retryAfter: 42 * time.Second,
		},
		{
			name: "plain text too many requests",
			err:  errors.New("429 Too Many Requests"),
			kind: FailureRateLimited, retryAfter: DefaultRetryAfter,
		},
		{
			name: "plain text 429 with hint",
			err:  errors.New("status 429, retry in 3s"),
			kind: FailureRateLimited, retryAfter: 3 * time.Second,
		},
		{
			name: "plain text exceeded quota",
			err:  errors.New("You exceeded your current quota, please check your plan"),
			kind: FailureRateLimited, retryAfter: DefaultRetryAfter,
		},
		{
			name: "429 inside a larger number",
			err:  errors.New("line 1429 rejected by validator"),
			kind: FailureOther,
		},
		{
			name: "quota setting unrelated to limits",
			err:  errors.New("quota project not set for this request"),
			kind: FailureOther,
		},
		{
			name: "plain text invalid key",
			err:  errors.New("API key not valid. Please pass a valid API key."),
			kind: FailureInvalidCredential,
		},
		{
			name: "malformed json",
			err:  errors.New(`upstream said {"error": {"code": 4`),
			kind: FailureOther,
		},
		{
			name: "connection reset",
			err:  errors.New("connection reset by peer"),
			kind: FailureOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Fatalf("Classify(%v).Kind = %v, want %v", tt.err, got.Kind, tt.kind)
			}
			if got.RetryAfter != tt.retryAfter {
				t.Errorf("Classify(%v).RetryAfter = %v, want %v", tt.err, got.RetryAfter, tt.retryAfter)
			}
		})
	}
}

func TestClassify_PreservesRawText(t *testing.T) {
	raw := `proxy failure {"unexpected": true`
	got := Classify(errors.New(raw))
	if got.Kind != FailureOther {
		t.Fatalf("expected FailureOther, got %v", got.Kind)
	}
	if got.Message != raw {
		t.Errorf("expected raw text %q, got %q", raw, got.Message)
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got.Kind != FailureOther {
		t.Errorf("expected FailureOther for nil, got %v", got.Kind)
	}
}
