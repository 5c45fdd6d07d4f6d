package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/ai-detect/internal/logging"
)

// Outcome values recorded on detection logs. Plain strings so the persisted
// rows stay readable without a decoder ring.
const (
	OutcomeOK              = "ok"
	OutcomeRejected        = "rejected"
	OutcomeTransportFailed = "transport_failed"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeInternalError   = "internal_error"
)

// DetectionLog is one persisted pipeline run: what was uploaded, how the
// validation gate ruled, and what the detector said.
type DetectionLog struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	ClientID       string    `gorm:"column:client_id;size:64"`
	ClientFilename string    `gorm:"column:client_filename;size:255"`
	Format         string    `gorm:"column:format;size:16"`
	Width          int       `gorm:"column:width"`
	Height         int       `gorm:"column:height"`
	Outcome        string    `gorm:"column:outcome;size:32;index"`
	Reason         string    `gorm:"column:reason;size:64"`
	AIScore        float64   `gorm:"column:ai_score"`
	Label          string    `gorm:"column:label;size:255"`
	Version        string    `gorm:"column:version;size:64"`
	SHA1Hash       string    `gorm:"column:sha1_hash;size:40;index"`
	SelfCheckOK    bool      `gorm:"column:self_check_ok"`
	UpstreamStatus int       `gorm:"column:upstream_status"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (DetectionLog) TableName() string {
	return "detection_logs"
}

// MetricsAggregation holds raw aggregates computed over detection logs.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	CompletedCount    int64   `gorm:"column:completed_count"`
	RejectedCount     int64   `gorm:"column:rejected_count"`
	AverageScore      float64 `gorm:"column:average_score"`
	AverageDurationMs float64 `gorm:"column:average_duration_ms"`
}

// DetectionRepository provides persistence APIs for detection logs.
type DetectionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDetectionRepository creates a new repository instance.
func NewDetectionRepository(db *gorm.DB, logger *zap.Logger) *DetectionRepository {
	return &DetectionRepository{
		db:             db,
		logger:         logger.Named("detection_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *DetectionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DetectionLog{})
}

// SaveLog persists a detection log entry.
func (r *DetectionRepository) SaveLog(ctx context.Context, log *DetectionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the detection log for a request.
func (r *DetectionRepository) FindByRequestID(ctx context.Context, requestID string) (*DetectionLog, error) {
	var log DetectionLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindDuplicatesByHash lists other requests that uploaded bytes with the
// same SHA-1, newest first.
func (r *DetectionRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*DetectionLog, error) {
	var logs []*DetectionLog
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes request totals and score averages in a single
// query. Averages only consider completed detections.
func (r *DetectionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&DetectionLog{}).
			Select(
				"COUNT(*) AS total_count, "+
					"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS completed_count, "+
					"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS rejected_count, "+
					"COALESCE(AVG(CASE WHEN outcome = ? THEN ai_score END), 0) AS average_score, "+
					"COALESCE(AVG(duration_ms), 0) AS average_duration_ms",
				OutcomeOK, OutcomeRejected, OutcomeOK,
			).
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

// executeWithRetry runs a database operation, retrying transient failures
// with exponential backoff. Not-found results pass through untouched so
// callers can branch on gorm.ErrRecordNotFound.
func (r *DetectionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
