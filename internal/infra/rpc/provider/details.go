package provider

import (
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"
	errorInfoType = "type.googleapis.com/google.rpc.ErrorInfo"
)

// retryInMessage matches hints like "Please retry in 37.5s." or "retry after 20 seconds".
var retryInMessage = regexp.MustCompile(`(?i)retry (?:in|after) ([0-9]+(?:\.[0-9]+)?)\s*(ms|s|sec|secs|seconds?)\b`)

// FromAPIError converts a genai API error into a RemoteError.
func FromAPIError(apiErr genai.APIError, credential string) *RemoteError {
	retryAfter, reason := ParseDetails(apiErr.Details)
	if retryAfter == 0 {
		retryAfter = RetryAfterFromMessage(apiErr.Message)
	}
	return &RemoteError{
		StatusCode: apiErr.Code,
		Code:       apiErr.Status,
		Reason:     reason,
		Message:    apiErr.Message,
		RetryAfter: retryAfter,
		Credential: credential,
	}
}

// ParseDetails extracts the retry delay and error reason from google.rpc status details
// in their JSON form.
func ParseDetails(details []map[string]any) (retryAfter time.Duration, reason string) {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		switch typ {
		case retryInfoType:
			if s, ok := d["retryDelay"].(string); ok {
				retryAfter = ParseRetryDelay(s)
			}
		case errorInfoType:
			if s, ok := d["reason"].(string); ok {
				reason = s
			}
		}
	}
	return retryAfter, reason
}

// ParseRetryDelay parses a protobuf JSON duration such as "37s" or "1.5s".
// Bare numbers are taken as seconds. Invalid input yields 0.
func ParseRetryDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
		return d
	}
	return 0
}

// RetryAfterFromMessage looks for a human-readable retry hint in an error message.
func RetryAfterFromMessage(msg string) time.Duration {
	m := retryInMessage.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	unit := "s"
	if strings.EqualFold(m[2], "ms") {
		unit = "ms"
	}
	d, err := time.ParseDuration(m[1] + unit)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
