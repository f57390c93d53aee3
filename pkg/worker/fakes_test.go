package worker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/cuemby/agentctl/pkg/connector"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"google.golang.org/grpc"
)

// fakeLeaseClient is an in-process stand-in for leaseproto.LeaseServiceClient
// that streams a fixed set of leases over a channel and records every
// Ack/Complete/Fail call it receives.
type fakeLeaseClient struct {
	mu sync.Mutex

	leases chan *leaseproto.LeaseMessage

	acks      []*leaseproto.AckRequest
	completes []*leaseproto.CompleteRequest
	fails     []*leaseproto.FailRequest
}

func newFakeLeaseClient(leases ...*leaseproto.LeaseMessage) *fakeLeaseClient {
	ch := make(chan *leaseproto.LeaseMessage, len(leases))
	for _, l := range leases {
		ch <- l
	}
	return &fakeLeaseClient{leases: ch}
}

func (f *fakeLeaseClient) Pull(ctx context.Context, in *leaseproto.PullRequest, opts ...grpc.CallOption) (leaseproto.LeaseService_PullClient, error) {
	return &fakePullStream{ctx: ctx, leases: f.leases}, nil
}

func (f *fakeLeaseClient) Ack(ctx context.Context, in *leaseproto.AckRequest, opts ...grpc.CallOption) (*leaseproto.AckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, in)
	return &leaseproto.AckResponse{}, nil
}

func (f *fakeLeaseClient) Complete(ctx context.Context, in *leaseproto.CompleteRequest, opts ...grpc.CallOption) (*leaseproto.CompleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, in)
	return &leaseproto.CompleteResponse{}, nil
}

func (f *fakeLeaseClient) Fail(ctx context.Context, in *leaseproto.FailRequest, opts ...grpc.CallOption) (*leaseproto.FailResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = append(f.fails, in)
	return &leaseproto.FailResponse{ShouldRetry: in.Retryable}, nil
}

func (f *fakeLeaseClient) snapshot() (acks []*leaseproto.AckRequest, completes []*leaseproto.CompleteRequest, fails []*leaseproto.FailRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*leaseproto.AckRequest{}, f.acks...), append([]*leaseproto.CompleteRequest{}, f.completes...), append([]*leaseproto.FailRequest{}, f.fails...)
}

// fakePullStream hands out queued leases and blocks afterward until the
// caller's context is cancelled, mimicking a real stream that stays open
// with no further sends.
type fakePullStream struct {
	grpc.ClientStream
	ctx    context.Context
	leases chan *leaseproto.LeaseMessage
}

func (s *fakePullStream) Recv() (*leaseproto.LeaseMessage, error) {
	select {
	case l, ok := <-s.leases:
		if !ok {
			<-s.ctx.Done()
			return nil, io.EOF
		}
		return l, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// fakeInput is an InputConnector backed by a fixed slice of messages, one
// per Receive call.
type fakeInput struct {
	mu         sync.Mutex
	messages   []*connector.Message
	completed  []string
	abandoned  []string
	deadLetter map[string]string
}

func newFakeInput(messages ...*connector.Message) *fakeInput {
	return &fakeInput{messages: messages, deadLetter: make(map[string]string)}
}

func (f *fakeInput) Receive(ctx context.Context) (*connector.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, nil
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	return m, nil
}

func (f *fakeInput) Complete(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, messageID)
	return nil
}

func (f *fakeInput) Abandon(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, messageID)
	return nil
}

func (f *fakeInput) DeadLetter(ctx context.Context, messageID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetter[messageID] = reason
	return nil
}

// fakeOutput is an OutputSink that either always succeeds or always fails
// with a fixed error.
type fakeOutput struct {
	mu        sync.Mutex
	err       error
	delivered []string
}

func (f *fakeOutput) Deliver(ctx context.Context, idempotencyKey string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, idempotencyKey)
	return nil
}

var errDeliveryFailed = errors.New("delivery failed")
