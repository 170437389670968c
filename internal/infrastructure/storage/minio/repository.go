package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// ReportPrefix is the object prefix of archived reports.
const ReportPrefix = "reports/"

const reportContentType = "application/json"

// ReportKey returns the object key of runID's report.
func ReportKey(runID string) string {
	return ReportPrefix + runID + ".json"
}

// ReportInfo describes one archived report.
type ReportInfo struct {
	RunID        string
	ObjectKey    string
	Size         int64
	LastModified time.Time
}

// ReportRepository archives final batch reports as reports/<run-id>.json.
type ReportRepository struct {
	client *MinIOClient
	logger logging.Logger
}

// NewReportRepository builds a repository over client.
func NewReportRepository(client *MinIOClient, log logging.Logger) *ReportRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ReportRepository{client: client, logger: log}
}

// Save writes report and returns its location as s3://bucket/key. An existing
// report for the same run is overwritten; a resumed run archives its final
// state.
func (r *ReportRepository) Save(ctx context.Context, report *batch.BatchReport) (string, error) {
	if report == nil || report.RunID == "" {
		return "", errors.NewValidationError("run_id", "report with run id required")
	}
	api, err := r.client.API()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal report")
	}

	bucket, key := r.client.Bucket(), ReportKey(report.RunID)
	opts := minio.PutObjectOptions{
		ContentType: reportContentType,
		UserMetadata: map[string]string{
			"run-id":     report.RunID,
			"total":      strconv.Itoa(report.Total()),
			"resolved":   strconv.Itoa(report.Counts[citation.StatusResolved]),
			"unresolved": strconv.Itoa(report.Counts[citation.StatusUnresolved]),
			"cancelled":  strconv.FormatBool(report.Cancelled),
		},
	}
	if _, err := api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "upload failed").WithDetail("object=" + key)
	}

	location := "s3://" + bucket + "/" + key
	r.logger.Info("batch report archived",
		logging.String("run_id", report.RunID),
		logging.String("location", location),
		logging.Int("bytes", len(data)))
	return location, nil
}

// Get reads runID's report.
func (r *ReportRepository) Get(ctx context.Context, runID string) (*batch.BatchReport, error) {
	if runID == "" {
		return nil, errors.NewValidationError("run_id", "run id required")
	}
	api, err := r.client.API()
	if err != nil {
		return nil, err
	}
	key := ReportKey(runID)
	obj, err := api.GetObject(ctx, r.client.Bucket(), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, r.readErr(err, runID, key)
	}
	defer obj.Close()

	// The SDK reports a missing key on first read, not on GetObject.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, r.readErr(err, runID, key)
	}
	var report batch.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode report").WithDetail("object=" + key)
	}
	return &report, nil
}

func (r *ReportRepository) readErr(err error, runID, key string) error {
	if isNoSuchKey(err) {
		return errors.ErrNotFound("batch report", runID)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "download failed").WithDetail("object=" + key)
}

// Exists reports whether runID has an archived report.
func (r *ReportRepository) Exists(ctx context.Context, runID string) (bool, error) {
	api, err := r.client.API()
	if err != nil {
		return false, err
	}
	if _, err := api.StatObject(ctx, r.client.Bucket(), ReportKey(runID), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageError, "stat failed")
	}
	return true, nil
}

// List returns up to limit reports, newest first. limit <= 0 means 100.
func (r *ReportRepository) List(ctx context.Context, limit int) ([]ReportInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	api, err := r.client.API()
	if err != nil {
		return nil, err
	}

	var out []ReportInfo
	for obj := range api.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: ReportPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "failed to list reports")
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		out = append(out, ReportInfo{
			RunID:        strings.TrimSuffix(strings.TrimPrefix(obj.Key, ReportPrefix), ".json"),
			ObjectKey:    obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes runID's report. Removing a missing report succeeds.
func (r *ReportRepository) Delete(ctx context.Context, runID string) error {
	api, err := r.client.API()
	if err != nil {
		return err
	}
	if err := api.RemoveObject(ctx, r.client.Bucket(), ReportKey(runID), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "delete failed").WithDetail("run_id=" + runID)
	}
	return nil
}

// PresignedURL signs a download URL for runID's report.
func (r *ReportRepository) PresignedURL(ctx context.Context, runID string, expiry time.Duration) (string, error) {
	return r.client.GeneratePresignedGetURL(ctx, ReportKey(runID), expiry)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
