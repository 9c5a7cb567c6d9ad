package routing

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/narrator/internal/infra/rpc/provider"
)

// DefaultRetryAfter is used when a rate limit carries no retry interval.
const DefaultRetryAfter = 60 * time.Second

var (
	// statusCode429 matches 429 as a standalone number, not inside "1429".
	statusCode429 = regexp.MustCompile(`(^|[^0-9.])429([^0-9.]|$)`)
	// quotaExhausted matches wording for a used-up quota, not other quota settings.
	quotaExhausted = regexp.MustCompile(`quota (?:exceeded|exhausted|limit reached)|exceeded (?:your |the )?(?:current )?quota|quota_exceeded`)
)

// FailureKind is the outcome of classifying a remote failure.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureRateLimited
	FailureInvalidCredential
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidCredential:
		return "invalid_credential"
	default:
		return "other"
	}
}

// Classification describes a remote failure.
type Classification struct {
	Kind       FailureKind
	RetryAfter time.Duration // set for FailureRateLimited
	Message    string
}

// Classify inspects a failure from a remote call. It never panics; anything it
// cannot make sense of is FailureOther with the original text.
func Classify(err error) (c Classification) {
	if err == nil {
		return Classification{Kind: FailureOther}
	}

	defer func() {
		if r := recover(); r != nil {
			c = Classification{Kind: FailureOther, Message: err.Error()}
		}
	}()

	var remote *provider.RemoteError
	if errors.As(err, &remote) && remote != nil {
		return classifyRemote(remote)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyRemote(provider.FromAPIError(apiErr, ""))
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return classifyGRPC(st)
	}

	text := err.Error()
	if remote := parseJSONPayload(text); remote != nil {
		return classifyRemote(remote)
	}

	return classifyText(text)
}

func classifyRemote(e *provider.RemoteError) Classification {
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}

	code := strings.ToUpper(e.Code)
	reason := strings.ToUpper(e.Reason)

	switch {
	case e.StatusCode == http.StatusTooManyRequests || code == "RESOURCE_EXHAUSTED":
		retryAfter := e.RetryAfter
		if retryAfter <= 0 {
			retryAfter = provider.RetryAfterFromMessage(e.Message)
		}
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfter
		}
		return Classification{Kind: FailureRateLimited, RetryAfter: retryAfter, Message: msg}

	case e.StatusCode == http.StatusUnauthorized,
		e.StatusCode == http.StatusForbidden,
		code == "UNAUTHENTICATED",
		code == "PERMISSION_DENIED",
		reason == "API_KEY_INVALID",
		reason == "API_KEY_SERVICE_BLOCKED",
		isInvalidKeyText(e.Message),
		(e.StatusCode == http.StatusNotFound || code == "NOT_FOUND") && isEntityNotFound(e.Message):
		return Classification{Kind: FailureInvalidCredential, Message: msg}
	}

	return Classification{Kind: FailureOther, Message: msg}
}

func classifyGRPC(st *status.Status) Classification {
	remote := &provider.RemoteError{
		Code:    st.Code().String(),
		Message: st.Message(),
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		remote.Code = "RESOURCE_EXHAUSTED"
	case codes.Unauthenticated:
		remote.Code = "UNAUTHENTICATED"
	case codes.PermissionDenied:
		remote.Code = "PERMISSION_DENIED"
	case codes.NotFound:
		remote.Code = "NOT_FOUND"
	}

	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.RetryInfo:
			if info.GetRetryDelay() != nil {
				remote.RetryAfter = info.GetRetryDelay().AsDuration()
			}
		case *errdetails.ErrorInfo:
			remote.Reason = info.GetReason()
		}
	}

	return classifyRemote(remote)
}

// parseJSONPayload extracts a Google-style {"error": {...}} body embedded in error text.
func parseJSONPayload(text string) *provider.RemoteError {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}

	var payload struct {
		Error *struct {
			Code    int              `json:"code"`
			Message string           `json:"message"`
			Status  string           `json:"status"`
			Details []map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil || payload.Error == nil {
		return nil
	}

	retryAfter, reason := provider.ParseDetails(payload.Error.Details)
	return &provider.RemoteError{
		StatusCode: payload.Error.Code,
		Code:       payload.Error.Status,
		Reason:     reason,
		Message:    payload.Error.Message,
		RetryAfter: retryAfter,
	}
}

// classifyText is the fallback for unstructured failures.
func classifyText(s string) Classification {
	lower := strings.ToLower(s)

	if statusCode429.MatchString(s) || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "rate limit") ||
		quotaExhausted.MatchString(lower) {
		retryAfter := provider.RetryAfterFromMessage(s)
		if retryAfter <= 0 {
			retryAfter = DefaultRetryAfter
		}
		return Classification{Kind: FailureRateLimited, RetryAfter: retryAfter, Message: s}
	}

	if isInvalidKeyText(s) || strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "permission_denied") ||
		strings.Contains(lower, "unauthenticated") ||
		strings.Contains(lower, "unauthorized") ||
		isEntityNotFound(s) {
		return Classification{Kind: FailureInvalidCredential, Message: s}
	}

	return Classification{Kind: FailureOther, Message: s}
}

func isInvalidKeyText(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "api key not valid") ||
		strings.Contains(lower, "api_key_invalid") ||
		strings.Contains(lower, "invalid api key")
}

func isEntityNotFound(s string) bool {
	return strings.Contains(strings.ToLower(s), "requested entity was not found")
}
