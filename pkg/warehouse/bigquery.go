package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/anicoll/bqloader"
	"google.golang.org/api/option"
)

// BigQuery implements bqloader.Warehouse on top of the BigQuery client library.
// Credentials are resolved by the client (Application Default Credentials unless options say otherwise).
type BigQuery struct {
	client   *bigquery.Client
	location string
}

// NewBigQuery creates a BigQuery warehouse for project. Jobs run in location when it is not empty.
func NewBigQuery(ctx context.Context, project, location string, opts ...option.ClientOption) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	client.Location = location

	return &BigQuery{client: client, location: location}, nil
}

// Close releases the underlying client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

// SubmitLoadJob inserts a load job from Cloud Storage and returns without waiting for it.
// The job ID is prefixed with the destination table and suffixed with a random string by the client.
func (b *BigQuery) SubmitLoadJob(ctx context.Context, spec bqloader.LoadJobSpec) (string, error) {
	loader, err := b.loader(spec)
	if err != nil {
		return "", err
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to insert load job into %s: %w", spec.Destination, err)
	}
	return job.ID(), nil
}

// JobStatus fetches the status of jobID.
func (b *BigQuery) JobStatus(ctx context.Context, jobID string) (bqloader.JobStatus, error) {
	var (
		job *bigquery.Job
		err error
	)
	if b.location != "" {
		job, err = b.client.JobFromIDLocation(ctx, jobID, b.location)
	} else {
		job, err = b.client.JobFromID(ctx, jobID)
	}
	if err != nil {
		return bqloader.JobStatus{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	status, err := job.Status(ctx)
	if err != nil {
		return bqloader.JobStatus{}, fmt.Errorf("failed to get status of job %s: %w", jobID, err)
	}
	return fromStatus(status), nil
}

func (b *BigQuery) loader(spec bqloader.LoadJobSpec) (*bigquery.Loader, error) {
	ref, err := toGCSReference(spec)
	if err != nil {
		return nil, err
	}
	disposition, err := toWriteDisposition(spec.WriteDisposition)
	if err != nil {
		return nil, err
	}

	dest := spec.Destination
	loader := b.client.DatasetInProject(dest.Project, dest.Dataset).Table(dest.Table).LoaderFrom(ref)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.JobID = jobIDPrefix(dest)
	loader.AddJobIDSuffix = true
	loader.Location = b.location

	return loader, nil
}

func toGCSReference(spec bqloader.LoadJobSpec) (*bigquery.GCSReference, error) {
	schema, err := toSchema(spec.Schema)
	if err != nil {
		return nil, err
	}

	ref := bigquery.NewGCSReference(spec.SourceURIs...)
	ref.SourceFormat = bigquery.CSV
	ref.FieldDelimiter = spec.FieldDelimiter
	ref.MaxBadRecords = spec.MaxBadRecords
	ref.AllowJaggedRows = spec.AllowJaggedRows
	ref.IgnoreUnknownValues = spec.IgnoreUnknownValues
	ref.SkipLeadingRows = spec.SkipLeadingRows
	ref.Schema = schema

	return ref, nil
}

var fieldTypes = map[bqloader.FieldType]bigquery.FieldType{
	bqloader.FieldTypeString:    bigquery.StringFieldType,
	bqloader.FieldTypeInteger:   bigquery.IntegerFieldType,
	bqloader.FieldTypeFloat:     bigquery.FloatFieldType,
	bqloader.FieldTypeBoolean:   bigquery.BooleanFieldType,
	bqloader.FieldTypeTimestamp: bigquery.TimestampFieldType,
	bqloader.FieldTypeDate:      bigquery.DateFieldType,
}

func toSchema(schema bqloader.Schema) (bigquery.Schema, error) {
	out := make(bigquery.Schema, 0, len(schema))
	for _, f := range schema {
		t, ok := fieldTypes[bqloader.FieldType(strings.ToUpper(string(f.Type)))]
		if !ok {
			return nil, &bqloader.InvalidSchemaError{Field: f.Name, Reason: fmt.Sprintf("unsupported type %q", f.Type)}
		}
		out = append(out, &bigquery.FieldSchema{Name: f.Name, Type: t})
	}
	return out, nil
}

func toWriteDisposition(d bqloader.WriteDisposition) (bigquery.TableWriteDisposition, error) {
	switch d {
	case bqloader.WriteAppend, "":
		return bigquery.WriteAppend, nil
	case bqloader.WriteOverwrite:
		return bigquery.WriteTruncate, nil
	case bqloader.WriteEmptyOnly:
		return bigquery.WriteEmpty, nil
	}
	return "", fmt.Errorf("%w: unknown write disposition %q", bqloader.ErrInvalidLoadSpec, d)
}

var invalidJobIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func jobIDPrefix(dest bqloader.TableRef) string {
	return invalidJobIDChars.ReplaceAllString(fmt.Sprintf("load_%s_%s_", dest.Dataset, dest.Table), "_")
}

func fromStatus(status *bigquery.JobStatus) bqloader.JobStatus {
	if status.State != bigquery.Done {
		return bqloader.JobStatus{State: bqloader.JobRunning}
	}
	if err := status.Err(); err != nil {
		return bqloader.JobStatus{State: bqloader.JobFailed, Detail: err.Error()}
	}
	return bqloader.JobStatus{State: bqloader.JobDone}
}

// Assert that BigQuery implements Warehouse.
var _ bqloader.Warehouse = (*BigQuery)(nil)
