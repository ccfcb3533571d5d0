package warehouse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/anicoll/bqloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testProject = "test-project"

func testSpec() bqloader.LoadJobSpec {
	return bqloader.LoadJobSpec{
		SourceURIs:       []string{"gs://ngram-dalhousie1/ngram-dalhousie/3gms/3gm-0007"},
		Destination:      bqloader.TableRef{Project: testProject, Dataset: "NGram", Table: "GRAM_WEB_1T_3_0007"},
		Schema:           bqloader.NGramSchema(),
		FieldDelimiter:   "\t",
		MaxBadRecords:    bqloader.DefaultMaxBadRecords,
		SkipLeadingRows:  1,
		AllowJaggedRows:  true,
		WriteDisposition: bqloader.WriteAppend,
	}
}

func TestToGCSReference(t *testing.T) {
	ref, err := toGCSReference(testSpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"gs://ngram-dalhousie1/ngram-dalhousie/3gms/3gm-0007"}, ref.URIs)
	assert.Equal(t, bigquery.CSV, ref.SourceFormat)
	assert.Equal(t, "\t", ref.FieldDelimiter)
	assert.Equal(t, int64(99999999), ref.MaxBadRecords)
	assert.Equal(t, int64(1), ref.SkipLeadingRows)
	assert.True(t, ref.AllowJaggedRows)
	assert.False(t, ref.IgnoreUnknownValues)
	require.Len(t, ref.Schema, 2)
	assert.Equal(t, "WORD", ref.Schema[0].Name)
	assert.Equal(t, bigquery.StringFieldType, ref.Schema[0].Type)
	assert.Equal(t, "COUNT", ref.Schema[1].Name)
	assert.Equal(t, bigquery.IntegerFieldType, ref.Schema[1].Type)
}

func TestToSchema_UnknownType(t *testing.T) {
	_, err := toSchema(bqloader.Schema{{Name: "GEO", Type: "GEOGRAPHY"}})
	assert.ErrorIs(t, err, bqloader.ErrInvalidSchema)
}

func TestToWriteDisposition(t *testing.T) {
	tests := []struct {
		in      bqloader.WriteDisposition
		want    bigquery.TableWriteDisposition
		wantErr bool
	}{
		{in: bqloader.WriteAppend, want: bigquery.WriteAppend},
		{in: "", want: bigquery.WriteAppend},
		{in: bqloader.WriteOverwrite, want: bigquery.WriteTruncate},
		{in: bqloader.WriteEmptyOnly, want: bigquery.WriteEmpty},
		{in: "MERGE", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := toWriteDisposition(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, bqloader.ErrInvalidLoadSpec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobIDPrefix(t *testing.T) {
	got := jobIDPrefix(bqloader.TableRef{Project: "p", Dataset: "NGram", Table: "GRAM_2013.01 1"})
	assert.Equal(t, "load_NGram_GRAM_2013_01_1_", got)
}

// fakeBigQuery serves the two job endpoints the warehouse uses.
type fakeBigQuery struct {
	mu       sync.Mutex
	jobs     map[string]map[string]any
	statuses map[string]map[string]any
}

func newFakeBigQuery() *fakeBigQuery {
	return &fakeBigQuery{
		jobs:     make(map[string]map[string]any),
		statuses: make(map[string]map[string]any),
	}
}

func (f *fakeBigQuery) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/projects/"+testProject+"/jobs"):
		job := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ref, _ := job["jobReference"].(map[string]any)
		jobID, _ := ref["jobId"].(string)
		job["status"] = map[string]any{"state": "RUNNING"}
		f.jobs[jobID] = job
		_ = json.NewEncoder(w).Encode(job)
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/projects/"+testProject+"/jobs/"):
		jobID := path.Base(r.URL.Path)
		job, ok := f.jobs[jobID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
			return
		}
		if status, ok := f.statuses[jobID]; ok {
			job["status"] = status
		}
		_ = json.NewEncoder(w).Encode(job)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBigQuery) setStatus(jobID string, status map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
}

func (f *fakeBigQuery) loadConfig(jobID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, _ := f.jobs[jobID]["configuration"].(map[string]any)
	load, _ := cfg["load"].(map[string]any)
	return load
}

func newTestBigQuery(t *testing.T) (*BigQuery, *fakeBigQuery) {
	t.Helper()
	fake := newFakeBigQuery()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	bq, err := NewBigQuery(context.Background(), testProject, "",
		option.WithEndpoint(srv.URL+"/bigquery/v2/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bq.Close() })
	return bq, fake
}

func TestBigQuery_SubmitAndStatus(t *testing.T) {
	ctx := context.Background()
	bq, fake := newTestBigQuery(t)

	jobID, err := bq.SubmitLoadJob(ctx, testSpec())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(jobID, "load_NGram_GRAM_WEB_1T_3_0007_"), jobID)

	load := fake.loadConfig(jobID)
	require.NotNil(t, load)
	assert.Equal(t, "\t", load["fieldDelimiter"])
	assert.Equal(t, "WRITE_APPEND", load["writeDisposition"])
	assert.Equal(t, "CREATE_IF_NEEDED", load["createDisposition"])
	assert.Equal(t, []any{"gs://ngram-dalhousie1/ngram-dalhousie/3gms/3gm-0007"}, load["sourceUris"])
	dest, _ := load["destinationTable"].(map[string]any)
	assert.Equal(t, "GRAM_WEB_1T_3_0007", dest["tableId"])
	assert.Equal(t, "NGram", dest["datasetId"])

	status, err := bq.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, bqloader.JobRunning, status.State)

	fake.setStatus(jobID, map[string]any{"state": "DONE"})
	status, err = bq.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, bqloader.JobStatus{State: bqloader.JobDone}, status)
}

func TestBigQuery_FailedJob(t *testing.T) {
	ctx := context.Background()
	bq, fake := newTestBigQuery(t)

	jobID, err := bq.SubmitLoadJob(ctx, testSpec())
	require.NoError(t, err)

	fake.setStatus(jobID, map[string]any{
		"state":       "DONE",
		"errorResult": map[string]any{"reason": "invalid", "message": "Too many errors encountered"},
	})

	status, err := bq.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, bqloader.JobFailed, status.State)
	assert.Contains(t, status.Detail, "Too many errors encountered")
}

func TestBigQuery_UnknownJob(t *testing.T) {
	bq, _ := newTestBigQuery(t)

	_, err := bq.JobStatus(context.Background(), "missing")
	assert.Error(t, err)
}

func TestBigQuery_InvalidDisposition(t *testing.T) {
	bq, _ := newTestBigQuery(t)

	spec := testSpec()
	spec.WriteDisposition = "MERGE"
	_, err := bq.SubmitLoadJob(context.Background(), spec)
	assert.ErrorIs(t, err, bqloader.ErrInvalidLoadSpec)
}
