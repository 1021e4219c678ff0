package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/verifid/webhook-relay/internal/signature"
)

// Result represents the outcome of one webhook delivery attempt
type Result struct {
	HTTPStatus      *int
	LatencyMs       int
	ResponseBody    string
	ResponseSummary *string
	Error           error
	RetryAfter      string // Retry-After header value if present
}

// Post performs a signed HTTP POST of the payload to the subscriber URL.
// A timeout expiry is reported the same way as any other delivery failure.
func Post(
	ctx context.Context,
	url string,
	payload map[string]interface{},
	secret string,
	timeoutSeconds int,
	maxResponseBodySize int,
	logger *zap.Logger,
) *Result {
	result := &Result{}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal payload: %w", err)
		return result
	}

	sig, err := signature.SignOutbound(payloadBytes, secret)
	if err != nil {
		result.Error = fmt.Errorf("failed to sign payload: %w", err)
		return result
	}

	client := &http.Client{
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		result.Error = fmt.Errorf("failed to create HTTP request: %w", err)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Verifid-Signature", sig)

	startTime := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		// Network/timeout error
		result.LatencyMs = int(time.Since(startTime).Milliseconds())
		result.Error = fmt.Errorf("HTTP request failed: %w", err)
		return result
	}
	defer resp.Body.Close()

	result.LatencyMs = int(time.Since(startTime).Milliseconds())
	result.HTTPStatus = &resp.StatusCode

	// Read response body (limited to maxResponseBodySize, +1 to detect truncation)
	responseBody := make([]byte, maxResponseBodySize+1)
	n, readErr := io.ReadFull(resp.Body, responseBody)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		logger.Warn("Failed to read response body",
			zap.Error(readErr),
			zap.String("url", url),
		)
	}

	if n > maxResponseBodySize {
		result.ResponseBody = string(responseBody[:maxResponseBodySize])
		summary := fmt.Sprintf("Response body truncated (read %d bytes, max %d)", n, maxResponseBodySize)
		result.ResponseSummary = &summary
	} else {
		result.ResponseBody = string(responseBody[:n])
		if n > 0 {
			summary := fmt.Sprintf("Response body: %s", result.ResponseBody)
			if len(summary) > 500 {
				summary = summary[:500] + "..."
			}
			result.ResponseSummary = &summary
		}
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		result.RetryAfter = retryAfter
	}

	return result
}

// ParseRetryAfterHeader parses the Retry-After header value.
// Only the integer-seconds form is handled; HTTP dates are ignored.
func ParseRetryAfterHeader(retryAfter string) (time.Duration, bool) {
	if retryAfter == "" {
		return 0, false
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
