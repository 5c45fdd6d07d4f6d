package assets

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// selfCheckReadLimit caps how much of a published asset the verifier reads
// back. Large enough to measure any accepted upload in full.
const selfCheckReadLimit = 16 << 20

// fingerprintBytes is how many leading bytes the report captures as hex.
const fingerprintBytes = 16

// SelfCheckReport describes the service's own retrieval of a freshly
// published URL. Diagnostic only: a failed self-check never stops the
// pipeline, since an edge that looks broken from inside the process can
// still be reachable for the external detector.
type SelfCheckReport struct {
	OK            bool   `json:"ok"`
	StatusCode    int    `json:"statusCode,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ByteLength    int    `json:"byteLength,omitempty"`
	FirstBytesHex string `json:"firstBytesHex,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SelfChecker fetches published URLs the way an external caller would.
type SelfChecker struct {
	client *http.Client
	logger *zap.Logger
}

// NewSelfChecker creates a checker with its own HTTP timeout, independent of
// the detector's.
func NewSelfChecker(timeout time.Duration, logger *zap.Logger) *SelfChecker {
	return &SelfChecker{
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("selfcheck"),
	}
}

// Check retrieves the URL and reports what came back. Any HTTP status is a
// valid observation and only 2xx counts as OK. Check never returns an error.
func (s *SelfChecker) Check(ctx context.Context, publicURL string) *SelfCheckReport {
	report := &SelfCheckReport{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicURL, nil)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	resp, err := s.client.Do(req)
	if err != nil {
		report.Error = err.Error()
		s.logger.Warn("self-check fetch failed",
			zap.String("url", publicURL),
			zap.Error(err))
		return report
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, selfCheckReadLimit))
	if err != nil {
		report.Error = err.Error()
	}

	report.StatusCode = resp.StatusCode
	report.ContentType = resp.Header.Get("Content-Type")
	report.ByteLength = len(data)
	if len(data) > 0 {
		n := fingerprintBytes
		if len(data) < n {
			n = len(data)
		}
		report.FirstBytesHex = hex.EncodeToString(data[:n])
	}
	report.OK = report.Error == "" && resp.StatusCode >= 200 && resp.StatusCode < 300

	if !report.OK {
		s.logger.Warn("self-check not ok",
			zap.String("url", publicURL),
			zap.Int("status", report.StatusCode),
			zap.String("error", report.Error))
	}
	return report
}
