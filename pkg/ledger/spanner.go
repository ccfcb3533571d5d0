package ledger

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/anicoll/bqloader"
	"google.golang.org/grpc/codes"
)

// SpannerLedger implements Ledger that stores LoadRecords in Cloud Spanner.
type SpannerLedger struct {
	client          *spanner.Client
	tableName       string
	requestPriority spannerpb.RequestOptions_Priority
}

type spannerConfig struct {
	requestPriority spannerpb.RequestOptions_Priority
}

type spannerOption interface {
	Apply(*spannerConfig)
}

type withRequestPriority spannerpb.RequestOptions_Priority

func (o withRequestPriority) Apply(c *spannerConfig) {
	c.requestPriority = spannerpb.RequestOptions_Priority(o)
}

// WithRequestPriority sets the priority option for Spanner requests.
// Default value is unspecified, equivalent to high.
func WithRequestPriority(priority spannerpb.RequestOptions_Priority) spannerOption {
	return withRequestPriority(priority)
}

// DefaultTableName is used when no ledger table is configured.
const DefaultTableName = "LoadJobs"

// NewSpanner creates a new instance of SpannerLedger for the given Spanner client and table name.
func NewSpanner(client *spanner.Client, tableName string, options ...spannerOption) *SpannerLedger {
	c := &spannerConfig{}
	for _, o := range options {
		o.Apply(c)
	}
	if tableName == "" {
		tableName = DefaultTableName
	}

	return &SpannerLedger{
		client:          client,
		tableName:       tableName,
		requestPriority: c.requestPriority,
	}
}

const (
	columnDestination = "Destination"
	columnJobID       = "JobID"
	columnScheme      = "Scheme"
	columnYear        = "Year"
	columnMonth       = "Month"
	columnGram        = "Gram"
	columnShard       = "Shard"
	columnState       = "State"
	columnDetail      = "Detail"
	columnSubmittedAt = "SubmittedAt"
	columnFinishedAt  = "FinishedAt"
	columnUpdatedAt   = "UpdatedAt"
)

var recordColumns = []string{
	columnDestination,
	columnJobID,
	columnScheme,
	columnYear,
	columnMonth,
	columnGram,
	columnShard,
	columnState,
	columnDetail,
	columnSubmittedAt,
	columnFinishedAt,
}

// Get returns the record for destination, or nil if the row does not exist.
func (s *SpannerLedger) Get(ctx context.Context, destination string) (*bqloader.LoadRecord, error) {
	row, err := s.client.Single().ReadRowWithOptions(ctx, s.tableName, spanner.Key{destination}, recordColumns,
		&spanner.ReadOptions{Priority: s.requestPriority})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger record %s: %w", destination, err)
	}

	record := new(bqloader.LoadRecord)
	if err := row.ToStruct(record); err != nil {
		return nil, fmt.Errorf("failed to decode ledger record %s: %w", destination, err)
	}
	return record, nil
}

// RecordSubmitted creates or replaces the row of record.Destination in the RUNNING state.
func (s *SpannerLedger) RecordSubmitted(ctx context.Context, record *bqloader.LoadRecord) error {
	if record == nil || record.Destination == "" {
		return ErrMissingDestination
	}

	submittedAt := any(record.SubmittedAt)
	if record.SubmittedAt.IsZero() {
		submittedAt = spanner.CommitTimestamp
	}

	m := spanner.InsertOrUpdateMap(s.tableName, map[string]any{
		columnDestination: record.Destination,
		columnJobID:       record.JobID,
		columnScheme:      record.Scheme,
		columnYear:        record.Year,
		columnMonth:       record.Month,
		columnGram:        record.Gram,
		columnShard:       record.Shard,
		columnState:       bqloader.JobRunning,
		columnDetail:      "",
		columnSubmittedAt: submittedAt,
		columnFinishedAt:  nil,
		columnUpdatedAt:   spanner.CommitTimestamp,
	})

	_, err := s.client.Apply(ctx, []*spanner.Mutation{m}, spanner.Priority(s.requestPriority))
	return err
}

// UpdateState stores status on the row of destination. FinishedAt is set for terminal states.
func (s *SpannerLedger) UpdateState(ctx context.Context, destination string, status bqloader.JobStatus) error {
	values := map[string]any{
		columnDestination: destination,
		columnState:       status.State,
		columnDetail:      status.Detail,
		columnUpdatedAt:   spanner.CommitTimestamp,
	}
	if status.State.Terminal() {
		values[columnFinishedAt] = spanner.CommitTimestamp
	}

	_, err := s.client.Apply(ctx, []*spanner.Mutation{spanner.UpdateMap(s.tableName, values)}, spanner.Priority(s.requestPriority))
	if spanner.ErrCode(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, destination)
	}
	return err
}

// Assert that SpannerLedger implements Ledger.
var _ bqloader.Ledger = (*SpannerLedger)(nil)
