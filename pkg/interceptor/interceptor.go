package interceptor

import (
	"context"

	"github.com/anicoll/bqloader"
	"google.golang.org/grpc"
)

// queue bounds the number of calls in flight. Waiting for a slot honours context cancellation.
type queue chan struct{}

func newQueue(size int) queue {
	if size < 1 {
		size = 1
	}
	return make(queue, size)
}

func (q queue) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q queue) release() {
	<-q
}

// QueueWarehouse wraps a Warehouse so that at most queueSize calls into it run at the same time.
// Used when several batch workers share one warehouse client.
type QueueWarehouse struct {
	next  bqloader.Warehouse
	queue queue
}

// NewQueueWarehouse creates a new QueueWarehouse with a given queue size.
func NewQueueWarehouse(next bqloader.Warehouse, queueSize int) *QueueWarehouse {
	return &QueueWarehouse{
		next:  next,
		queue: newQueue(queueSize),
	}
}

func (w *QueueWarehouse) SubmitLoadJob(ctx context.Context, spec bqloader.LoadJobSpec) (string, error) {
	if err := w.queue.acquire(ctx); err != nil {
		return "", err
	}
	defer w.queue.release()

	return w.next.SubmitLoadJob(ctx, spec)
}

func (w *QueueWarehouse) JobStatus(ctx context.Context, jobID string) (bqloader.JobStatus, error) {
	if err := w.queue.acquire(ctx); err != nil {
		return bqloader.JobStatus{}, err
	}
	defer w.queue.release()

	return w.next.JobStatus(ctx, jobID)
}

// Assert that QueueWarehouse implements Warehouse.
var _ bqloader.Warehouse = (*QueueWarehouse)(nil)

// QueueInterceptor is a gRPC client interceptor that bounds the number of RPCs in flight.
// The CLI installs it on the ledger's Spanner client.
type QueueInterceptor struct {
	queue queue
}

// NewQueueInterceptor creates a new QueueInterceptor with a given queue size.
func NewQueueInterceptor(queueSize int) *QueueInterceptor {
	return &QueueInterceptor{
		queue: newQueue(queueSize),
	}
}

// UnaryInterceptor waits for a free slot, then invokes the RPC.
func (qi *QueueInterceptor) UnaryInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if err := qi.queue.acquire(ctx); err != nil {
		return err
	}
	defer qi.queue.release()

	return invoker(ctx, method, req, reply, cc, opts...)
}

// StreamInterceptor holds a slot while the stream is being opened.
func (qi *QueueInterceptor) StreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	if err := qi.queue.acquire(ctx); err != nil {
		return nil, err
	}
	defer qi.queue.release()

	return streamer(ctx, desc, cc, method, opts...)
}
