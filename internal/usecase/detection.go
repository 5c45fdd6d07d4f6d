package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ai-detect/internal/assets"
	"github.com/example/ai-detect/internal/detector"
	"github.com/example/ai-detect/internal/imagecheck"
	"github.com/example/ai-detect/internal/logging"
	"github.com/example/ai-detect/internal/normalize"
	"github.com/example/ai-detect/internal/repository"
)

// Failure codes recorded alongside non-ok outcomes.
const (
	ReasonMissingCredential = "MISSING_CREDENTIAL"
	ReasonTransportError    = "UPSTREAM_TRANSPORT_ERROR"
	ReasonUpstreamError     = "UPSTREAM_LOGICAL_ERROR"
	ReasonPublishFailed     = "PUBLISH_FAILED"
)

// processingMarker is the cache value left while a run is still in flight.
const processingMarker = "processing"

// resultCacheTTL bounds how long finished results stay in the cache.
const resultCacheTTL = 5 * time.Minute

// ErrStillProcessing reports that a detection run exists but has not
// finished yet.
var ErrStillProcessing = errors.New("detection still processing")

// DetectionRepository defines the persistence operations needed by the use case.
type DetectionRepository interface {
	SaveLog(ctx context.Context, log *repository.DetectionLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.DetectionLog, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.DetectionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AssetPublisher stores validated bytes and derives their public URL.
type AssetPublisher interface {
	Publish(data []byte, format imagecheck.Format, origin assets.Origin) (*assets.PublishedAsset, error)
}

// SelfChecker verifies a published URL is reachable from the outside.
type SelfChecker interface {
	Check(ctx context.Context, publicURL string) *assets.SelfCheckReport
}

// Upload is one inbound image with its untrusted client metadata.
type Upload struct {
	Filename string
	ClientID string
	Data     []byte
}

// Outcome is the full result of one pipeline run. Result is a well-formed
// envelope regardless of Tag; the tag and reason exist for persistence and
// logs, never for the wire.
type Outcome struct {
	RequestID      string
	Tag            string
	Reason         string
	Result         normalize.Result
	Format         imagecheck.Format
	Width          int
	Height         int
	Asset          *assets.PublishedAsset
	SelfCheck      *assets.SelfCheckReport
	UpstreamStatus int
}

// DetectionUseCase runs the validate, publish, verify, detect, normalize
// pipeline and owns its persistence.
type DetectionUseCase struct {
	repo      DetectionRepository
	cache     Cache
	publisher AssetPublisher
	checker   SelfChecker
	client    detector.Client
	logger    *zap.Logger
}

// NewDetectionUseCase constructs a new use case instance.
func NewDetectionUseCase(repo DetectionRepository, cache Cache, publisher AssetPublisher, checker SelfChecker, client detector.Client, logger *zap.Logger) *DetectionUseCase {
	return &DetectionUseCase{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		checker:   checker,
		client:    client,
		logger:    logger.Named("detection_usecase"),
	}
}

// DetectImage runs the full pipeline over one upload. Every outcome except a
// failed publish resolves into a servable envelope with a nil error; the
// returned error is non-nil only when the image could not be stored at all.
func (uc *DetectionUseCase) DetectImage(ctx context.Context, upload Upload, origin assets.Origin) (*Outcome, error) {
	requestID := uuid.NewString()
	started := time.Now()
	opLogger := logging.WithOperation(uc.logger, "usecase.detect_image", requestID)

	// Once the gate passes, the run must survive the caller hanging up:
	// external calls already in flight and the pipeline's own bookkeeping
	// continue on a detached context.
	bgCtx := context.WithoutCancel(ctx)

	uc.markProcessing(ctx, requestID, opLogger)

	outcome := &Outcome{RequestID: requestID, Tag: repository.OutcomeOK}

	gate := imagecheck.Evaluate(upload.Data)
	outcome.Format = gate.Format
	outcome.Width = gate.Width
	outcome.Height = gate.Height

	if !gate.Accepted {
		outcome.Tag = repository.OutcomeRejected
		outcome.Reason = string(gate.Reason)
		outcome.Result = normalize.Neutral(gate.Message)
		opLogger.Info("upload rejected",
			zap.String("reason", outcome.Reason),
			zap.String("format", string(gate.Format)),
			zap.Int("width", gate.Width),
			zap.Int("height", gate.Height))
		uc.finish(bgCtx, outcome, upload, started, opLogger)
		return outcome, nil
	}

	asset, err := uc.publisher.Publish(upload.Data, gate.Format, origin)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.publish", requestID, err)
		opLogger.Error("failed to publish upload", zap.Error(wrapped))
		outcome.Tag = repository.OutcomeInternalError
		outcome.Reason = ReasonPublishFailed
		outcome.Result = normalize.Neutral("Unable to publish image for detection")
		uc.finish(bgCtx, outcome, upload, started, opLogger)
		return outcome, wrapped
	}
	outcome.Asset = asset

	outcome.SelfCheck = uc.checker.Check(bgCtx, asset.PublicURL)
	if !outcome.SelfCheck.OK {
		opLogger.Warn("self-check failed, continuing to detection",
			zap.String("public_url", asset.PublicURL),
			zap.Int("status", outcome.SelfCheck.StatusCode),
			zap.String("error", outcome.SelfCheck.Error))
	}

	resp, detectErr := uc.client.Detect(bgCtx, asset.PublicURL)
	switch {
	case errors.Is(detectErr, detector.ErrMissingCredential):
		outcome.Tag = repository.OutcomeTransportFailed
		outcome.Reason = ReasonMissingCredential
		outcome.Result = normalize.Normalize(errorPayload(detectErr.Error()))
		opLogger.Error("detection skipped", zap.Error(detectErr))
	case detectErr != nil:
		message := detectErr.Error()
		var opErr *logging.OperationError
		if errors.As(detectErr, &opErr) {
			outcome.UpstreamStatus = opErr.UpstreamStatus
			if opErr.Err != nil {
				message = opErr.Err.Error()
			}
		}
		outcome.Tag = repository.OutcomeTransportFailed
		outcome.Reason = ReasonTransportError
		outcome.Result = normalize.Normalize(errorPayload(message))
		opLogger.Error("detection transport failure", zap.Error(detectErr))
	default:
		if resp != nil {
			outcome.UpstreamStatus = resp.StatusCode
			outcome.Result = normalize.Normalize(resp.Payload)
		} else {
			outcome.Result = normalize.Normalize(nil)
		}
		if outcome.Result.Failed {
			outcome.Tag = repository.OutcomeUpstreamError
			outcome.Reason = ReasonUpstreamError
			opLogger.Warn("upstream reported an error",
				zap.String("label", outcome.Result.Label),
				zap.Int("upstream_status", outcome.UpstreamStatus))
		}
	}

	if outcome.Tag == repository.OutcomeOK {
		opLogger.Info("detection completed",
			zap.Float64("ai_score", outcome.Result.AIScore),
			zap.String("label", outcome.Result.Label),
			zap.Bool("self_check_ok", outcome.SelfCheck.OK),
			zap.Duration("duration", time.Since(started)))
	}

	uc.finish(bgCtx, outcome, upload, started, opLogger)
	return outcome, nil
}

// finish records the outcome in the database and cache. Failures here are
// logged but never destroy a verdict that already exists.
func (uc *DetectionUseCase) finish(ctx context.Context, outcome *Outcome, upload Upload, started time.Time, opLogger *zap.Logger) {
	hash := sha1.Sum(upload.Data)

	log := &repository.DetectionLog{
		RequestID:      outcome.RequestID,
		ClientID:       upload.ClientID,
		ClientFilename: upload.Filename,
		Format:         string(outcome.Format),
		Width:          outcome.Width,
		Height:         outcome.Height,
		Outcome:        outcome.Tag,
		Reason:         outcome.Reason,
		AIScore:        outcome.Result.AIScore,
		Label:          outcome.Result.Label,
		Version:        outcome.Result.Version,
		SHA1Hash:       hex.EncodeToString(hash[:]),
		SelfCheckOK:    outcome.SelfCheck != nil && outcome.SelfCheck.OK,
		UpstreamStatus: outcome.UpstreamStatus,
		DurationMs:     time.Since(started).Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}

	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist detection log", zap.Error(err))
	}

	uc.cacheOutcome(ctx, log, opLogger)
}

func (uc *DetectionUseCase) markProcessing(ctx context.Context, requestID string, opLogger *zap.Logger) {
	if err := uc.cache.Set(ctx, cacheKey(requestID), processingMarker, time.Minute); err != nil {
		opLogger.Warn("failed to set processing marker", zap.Error(err))
	}
}

func (uc *DetectionUseCase) cacheOutcome(ctx context.Context, log *repository.DetectionLog, opLogger *zap.Logger) {
	serialized, err := json.Marshal(newCachedDetection(log))
	if err != nil {
		opLogger.Warn("failed to serialize detection result", zap.Error(err))
		return
	}
	if err := uc.cache.Set(ctx, cacheKey(log.RequestID), string(serialized), resultCacheTTL); err != nil {
		opLogger.Warn("failed to cache detection result", zap.Error(err))
	}
}

// GetResult retrieves a finished detection, preferring the cache over the
// database. A processing marker means the run exists but has no verdict yet.
func (uc *DetectionUseCase) GetResult(ctx context.Context, requestID string) (*repository.DetectionLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", requestID)

	cached, err := uc.cache.Get(ctx, cacheKey(requestID))
	switch {
	case err == nil && cached == processingMarker:
		return nil, ErrStillProcessing
	case err == nil:
		var payload cachedDetection
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else {
			return payload.toLog(), nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

// DuplicateReport lists other requests that uploaded the same bytes.
type DuplicateReport struct {
	Request    *repository.DetectionLog
	Duplicates []*repository.DetectionLog
}

// GetDuplicateReport builds a duplicate report for a detection request,
// matching on the SHA-1 of the uploaded bytes.
func (uc *DetectionUseCase) GetDuplicateReport(ctx context.Context, requestID string) (*DuplicateReport, error) {
	log, err := uc.GetResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := uc.repo.FindDuplicatesByHash(ctx, log.SHA1Hash, log.RequestID)
	if err != nil {
		return nil, err
	}

	return &DuplicateReport{
		Request:    log,
		Duplicates: duplicates,
	}, nil
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("detection:%s", requestID)
}

func errorPayload(message string) map[string]any {
	return map[string]any{"error": map[string]any{"message": message}}
}

// cachedDetection is the serialized cache representation of a finished run.
type cachedDetection struct {
	RequestID      string    `json:"request_id"`
	ClientID       string    `json:"client_id,omitempty"`
	ClientFilename string    `json:"client_filename,omitempty"`
	Format         string    `json:"format,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	AIScore        float64   `json:"ai_score"`
	Label          string    `json:"label"`
	Version        string    `json:"version"`
	Hash           string    `json:"sha1_hash"`
	SelfCheckOK    bool      `json:"self_check_ok"`
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

func newCachedDetection(log *repository.DetectionLog) cachedDetection {
	return cachedDetection{
		RequestID:      log.RequestID,
		ClientID:       log.ClientID,
		ClientFilename: log.ClientFilename,
		Format:         log.Format,
		Width:          log.Width,
		Height:         log.Height,
		Outcome:        log.Outcome,
		Reason:         log.Reason,
		AIScore:        log.AIScore,
		Label:          log.Label,
		Version:        log.Version,
		Hash:           log.SHA1Hash,
		SelfCheckOK:    log.SelfCheckOK,
		UpstreamStatus: log.UpstreamStatus,
		DurationMs:     log.DurationMs,
		CreatedAt:      log.CreatedAt,
	}
}

func (c cachedDetection) toLog() *repository.DetectionLog {
	return &repository.DetectionLog{
		RequestID:      c.RequestID,
		ClientID:       c.ClientID,
		ClientFilename: c.ClientFilename,
		Format:         c.Format,
		Width:          c.Width,
		Height:         c.Height,
		Outcome:        c.Outcome,
		Reason:         c.Reason,
		AIScore:        c.AIScore,
		Label:          c.Label,
		Version:        c.Version,
		SHA1Hash:       c.Hash,
		SelfCheckOK:    c.SelfCheckOK,
		UpstreamStatus: c.UpstreamStatus,
		DurationMs:     c.DurationMs,
		CreatedAt:      c.CreatedAt,
	}
}
