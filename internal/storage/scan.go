package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tensorzero/curator/internal/model"
)

// Rows is the cursor surface shared by pgx.Rows and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// tsDest scans a timestamp column in the representation the dialect stores.
type tsDest struct {
	dialect Dialect
	t       time.Time
	secs    int64
}

func (x *tsDest) ptr() any {
	if x.dialect == SQLite {
		return &x.secs
	}
	return &x.t
}

func (x *tsDest) value() time.Time {
	if x.dialect == SQLite {
		return time.Unix(x.secs, 0).UTC()
	}
	return x.t.UTC()
}

// ScanInferenceRows reads inference rows in Table.Columns order.
func ScanInferenceRows(d Dialect, t Table, rows Rows) ([]model.Inference, error) {
	var out []model.Inference
	for rows.Next() {
		var (
			inf           model.Inference
			input, output []byte
			ts            = tsDest{dialect: d}
		)
		if err := rows.Scan(&inf.ID, &inf.FunctionName, &inf.VariantName, &inf.EpisodeID,
			&input, &output, ts.ptr()); err != nil {
			return nil, fmt.Errorf("storage: scan inference: %w", err)
		}
		inf.FunctionType = t.FunctionType()
		inf.Timestamp = ts.value()
		if err := json.Unmarshal(input, &inf.Input); err != nil {
			return nil, fmt.Errorf("storage: decode input of %s: %w", inf.ID, err)
		}
		if err := json.Unmarshal(output, &inf.Output); err != nil {
			return nil, fmt.Errorf("storage: decode output of %s: %w", inf.ID, err)
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// ScanFeedbackRows reads feedback rows of table t in Table.Columns order.
func ScanFeedbackRows(d Dialect, t Table, rows Rows) ([]model.Feedback, error) {
	var out []model.Feedback
	for rows.Next() {
		f, err := scanFeedback(d, t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFeedback(d Dialect, t Table, rows Rows) (model.Feedback, error) {
	var (
		fid, target uuid.UUID
		ts          = tsDest{dialect: d}
		err         error
	)
	switch t {
	case TableBooleanFeedback:
		var metric string
		var value bool
		if err = rows.Scan(&fid, &target, &metric, &value, ts.ptr()); err == nil {
			return model.BooleanMetricFeedback{ID: fid, TargetID: target, MetricName: metric, Value: value, Timestamp: ts.value()}, nil
		}
	case TableFloatFeedback:
		var metric string
		var value float64
		if err = rows.Scan(&fid, &target, &metric, &value, ts.ptr()); err == nil {
			return model.FloatMetricFeedback{ID: fid, TargetID: target, MetricName: metric, Value: value, Timestamp: ts.value()}, nil
		}
	case TableCommentFeedback:
		var targetType, value string
		if err = rows.Scan(&fid, &target, &targetType, &value, ts.ptr()); err == nil {
			return model.CommentFeedback{ID: fid, TargetID: target, TargetType: model.TargetType(targetType), Value: value, Timestamp: ts.value()}, nil
		}
	case TableDemonstrationFeedback:
		var value string
		if err = rows.Scan(&fid, &target, &value, ts.ptr()); err == nil {
			return model.DemonstrationFeedback{ID: fid, InferenceID: target, Value: value, Timestamp: ts.value()}, nil
		}
	default:
		return nil, fmt.Errorf("storage: %s is not a feedback table", t)
	}
	return nil, fmt.Errorf("storage: scan %s: %w", t, err)
}
