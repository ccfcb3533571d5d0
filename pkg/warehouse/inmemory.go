package warehouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/anicoll/bqloader"
	"github.com/google/uuid"
)

// Submission is one load job accepted by an Inmemory warehouse.
type Submission struct {
	JobID string
	Spec  bqloader.LoadJobSpec
}

// Inmemory implements bqloader.Warehouse without talking to any service.
// Submitted jobs report DONE on their first status request unless a status script says otherwise.
// It is safe for concurrent use.
type Inmemory struct {
	mu          sync.Mutex
	submissions []Submission
	byJob       map[string]*inmemoryJob
	scripts     map[string][]bqloader.JobStatus
	submitErrs  map[string]error
	statusCalls map[string]int
}

type inmemoryJob struct {
	destination string
	script      []bqloader.JobStatus
}

// NewInmemory creates an empty in-memory warehouse.
func NewInmemory() *Inmemory {
	return &Inmemory{
		byJob:       make(map[string]*inmemoryJob),
		scripts:     make(map[string][]bqloader.JobStatus),
		submitErrs:  make(map[string]error),
		statusCalls: make(map[string]int),
	}
}

// ScriptStatus sets the statuses returned by successive JobStatus calls for jobs loading into destination.
// The last status repeats once the script is exhausted.
func (w *Inmemory) ScriptStatus(destination string, statuses ...bqloader.JobStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scripts[destination] = statuses
}

// FailSubmit makes every submission into destination fail with err.
func (w *Inmemory) FailSubmit(destination string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitErrs[destination] = err
}

func (w *Inmemory) SubmitLoadJob(ctx context.Context, spec bqloader.LoadJobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dest := spec.Destination.String()
	if err := w.submitErrs[dest]; err != nil {
		return "", err
	}

	jobID := jobIDPrefix(spec.Destination) + uuid.NewString()
	w.byJob[jobID] = &inmemoryJob{
		destination: dest,
		script:      append([]bqloader.JobStatus(nil), w.scripts[dest]...),
	}
	w.submissions = append(w.submissions, Submission{JobID: jobID, Spec: spec})

	return jobID, nil
}

func (w *Inmemory) JobStatus(ctx context.Context, jobID string) (bqloader.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return bqloader.JobStatus{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	job, ok := w.byJob[jobID]
	if !ok {
		return bqloader.JobStatus{}, fmt.Errorf("job %s not found", jobID)
	}
	w.statusCalls[jobID]++

	if len(job.script) == 0 {
		return bqloader.JobStatus{State: bqloader.JobDone}, nil
	}
	status := job.script[0]
	if len(job.script) > 1 {
		job.script = job.script[1:]
	}
	return status, nil
}

// Submissions returns the accepted jobs in submission order.
func (w *Inmemory) Submissions() []Submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Submission(nil), w.submissions...)
}

// StatusCalls returns how many times the status of jobID was requested.
func (w *Inmemory) StatusCalls(jobID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statusCalls[jobID]
}

// Assert that Inmemory implements Warehouse.
var _ bqloader.Warehouse = (*Inmemory)(nil)
