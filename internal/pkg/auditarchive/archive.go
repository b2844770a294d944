package auditarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

const contentType = "application/x-ndjson"

// Source reads audit rows for a time range.
type Source interface {
	ListWebhookLogs(ctx context.Context, from, to time.Time) ([]models.WebhookEventLog, error)
	ListSendLogs(ctx context.Context, from, to time.Time) ([]models.SequenceSendLog, error)
}

// Result describes one export run.
type Result struct {
	Day          string `json:"day"`
	WebhookKey   string `json:"webhook_key,omitempty"`
	WebhookRows  int    `json:"webhook_rows"`
	SendKey      string `json:"send_key,omitempty"`
	SendRows     int    `json:"send_rows"`
	AlreadyThere bool   `json:"already_there,omitempty"`
}

// Archiver copies a UTC day of audit rows to object storage as JSON lines.
// Exports are write-once: an existing object for the day is left alone.
type Archiver struct {
	store  ObjectStore
	bucket string
	source Source
	log    zerolog.Logger
}

func NewArchiver(store ObjectStore, bucket string, source Source) *Archiver {
	return &Archiver{store: store, bucket: bucket, source: source, log: logging.Component("auditarchive")}
}

// ObjectKey returns the key for a kind ("webhooks" or "sends") and day.
func ObjectKey(kind string, day time.Time) string {
	d := day.UTC()
	return fmt.Sprintf("audit/%s/%04d/%02d/%02d.jsonl", kind, d.Year(), int(d.Month()), d.Day())
}

// ExportDay uploads the webhook and send logs of the UTC day containing day.
func (a *Archiver) ExportDay(ctx context.Context, day time.Time) (Result, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	res := Result{Day: from.Format(models.DayLayout)}

	hooks, err := a.source.ListWebhookLogs(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("list webhook logs: %w", err)
	}
	sends, err := a.source.ListSendLogs(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("list send logs: %w", err)
	}

	res.WebhookRows = len(hooks)
	res.SendRows = len(sends)

	if len(hooks) > 0 {
		key := ObjectKey("webhooks", from)
		written, err := upload(ctx, a, key, hooks)
		if err != nil {
			return res, err
		}
		res.WebhookKey = key
		res.AlreadyThere = res.AlreadyThere || !written
	}
	if len(sends) > 0 {
		key := ObjectKey("sends", from)
		written, err := upload(ctx, a, key, sends)
		if err != nil {
			return res, err
		}
		res.SendKey = key
		res.AlreadyThere = res.AlreadyThere || !written
	}

	a.log.Info().Str("day", res.Day).Int("webhooks", res.WebhookRows).Int("sends", res.SendRows).Msg("Audit export finished")
	return res, nil
}

func upload[T any](ctx context.Context, a *Archiver, key string, rows []T) (bool, error) {
	exists, err := objectExists(ctx, a.store, a.bucket, key)
	if err != nil {
		return false, err
	}
	if exists {
		a.log.Warn().Str("key", key).Msg("Audit object already exported, skipping")
		return false, nil
	}

	body, err := encodeLines(rows)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}

	_, err = a.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"upload-source": "reflectcoach-audit",
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return true, nil
}

func encodeLines[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
