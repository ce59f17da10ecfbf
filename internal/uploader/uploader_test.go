package uploader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storacore/internal/kadid"
	"storacore/internal/nodelogic"
)

// scriptedNetwork plays back a fixed sequence of GetStoreCost/Upload
// outcomes per key, letting each test assert the exact pipeline transitions
// named in spec.md §8's worked scenarios.
type scriptedNetwork struct {
	mu sync.Mutex

	costs      map[kadid.Key][]costStep
	costCalls  map[kadid.Key]int
	uploads    map[kadid.Key][]error
	uploadCall map[kadid.Key]int
	registers  map[kadid.Key]error
}

type costStep struct {
	cost uint64
	err  error
}

func newScriptedNetwork() *scriptedNetwork {
	return &scriptedNetwork{
		costs:      make(map[kadid.Key][]costStep),
		costCalls:  make(map[kadid.Key]int),
		uploads:    make(map[kadid.Key][]error),
		uploadCall: make(map[kadid.Key]int),
		registers:  make(map[kadid.Key]error),
	}
}

func (n *scriptedNetwork) GetStoreCost(_ context.Context, key kadid.Key, _ CostStrategy) (*nodelogic.Quote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	steps := n.costs[key]
	i := n.costCalls[key]
	n.costCalls[key] = i + 1
	if i >= len(steps) {
		i = len(steps) - 1
	}
	step := steps[i]
	if step.err != nil {
		return nil, step.err
	}
	return &nodelogic.Quote{Key: key, Cost: step.cost, Signer: kadid.Key{0xAA}}, nil
}

func (n *scriptedNetwork) GetRegister(_ context.Context, key kadid.Key) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return nil, n.registers[key]
}

func (n *scriptedNetwork) UploadChunk(_ context.Context, key kadid.Key, _ []byte, _ *nodelogic.PaymentProof) error {
	return n.nextUpload(key)
}

func (n *scriptedNetwork) UploadRegister(_ context.Context, key kadid.Key, _ []byte, _ *nodelogic.PaymentProof) error {
	return n.nextUpload(key)
}

func (n *scriptedNetwork) nextUpload(key kadid.Key) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	errs := n.uploads[key]
	i := n.uploadCall[key]
	n.uploadCall[key] = i + 1
	if i >= len(errs) {
		return nil
	}
	return errs[i]
}

type countingPayer struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPayer) Pay(_ context.Context, quotes []nodelogic.Quote) ([]Receipt, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	out := make([]Receipt, len(quotes))
	for i, q := range quotes {
		out[i] = Receipt{Tokens: q.Cost}
	}
	return out, nil
}

func drain(t *testing.T, h *Handle) []Event {
	t.Helper()
	var events []Event
	for e := range h.Events() {
		events = append(events, e)
	}
	return events
}

// Scenario 1: happy path chunk upload.
func TestUploaderHappyPathChunk(t *testing.T) {
	key := kadid.Key{0x01}
	net := newScriptedNetwork()
	net.costs[key] = []costStep{{cost: 10}}
	pay := &countingPayer{}

	u := New(net, pay, 1).WithPaymentBatchSize(1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindChunk, []byte("hello"))})
	events := drain(t, h)
	summary, err := h.Wait()

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadedCount)
	assert.Equal(t, 0, summary.SkippedCount)
	assert.Equal(t, uint64(10), summary.StorageCost)
	assert.Equal(t, 1, pay.calls)

	var sawPayment, sawUpload bool
	for _, e := range events {
		if e.Kind == EventPaymentMade {
			sawPayment = true
		}
		if e.Kind == EventChunkUploaded {
			sawUpload = true
		}
	}
	assert.True(t, sawPayment)
	assert.True(t, sawUpload)
}

// Scenario 2: already-present chunk, cost=0 short-circuits payment/upload.
func TestUploaderAlreadyExistsSkipsPaymentAndUpload(t *testing.T) {
	key := kadid.Key{0x02}
	net := newScriptedNetwork()
	net.costs[key] = []costStep{{cost: 0}}
	pay := &countingPayer{}

	u := New(net, pay, 1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindChunk, []byte("dup"))})
	events := drain(t, h)
	summary, err := h.Wait()

	require.NoError(t, err)
	assert.Equal(t, 0, summary.UploadedCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, 0, pay.calls)
	require.Len(t, events, 1)
	assert.Equal(t, EventAlreadyExists, events[0].Kind)
}

// Scenario 3: one upload failure pair triggers a repayment against a
// different payee, then succeeds; max_repayments_for_failed_data=1 is not
// exceeded by a single repayment.
func TestUploaderRepaymentAfterUploadFailure(t *testing.T) {
	key := kadid.Key{0x03}
	net := newScriptedNetwork()
	net.costs[key] = []costStep{{cost: 10}, {cost: 10}}
	net.uploads[key] = []error{assertErr, assertErr}
	pay := &countingPayer{}

	u := New(net, pay, 1).WithPaymentBatchSize(1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindChunk, []byte("payload"))})
	events := drain(t, h)
	summary, err := h.Wait()

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadedCount)

	paymentCount := 0
	uploadedCount := 0
	for _, e := range events {
		if e.Kind == EventPaymentMade {
			paymentCount++
		}
		if e.Kind == EventChunkUploaded {
			uploadedCount++
		}
	}
	assert.Equal(t, 2, paymentCount)
	assert.Equal(t, 1, uploadedCount)
}

// Scenario 4: repayments exhausted — two failure pairs with
// max_repayments_for_failed_data=1 means the second repayment attempt is
// rejected before any further network call.
func TestUploaderRepaymentsExhausted(t *testing.T) {
	key := kadid.Key{0x04}
	net := newScriptedNetwork()
	net.costs[key] = []costStep{{cost: 10}, {cost: 10}}
	net.uploads[key] = []error{assertErr, assertErr, assertErr, assertErr}
	pay := &countingPayer{}

	u := New(net, pay, 1).WithPaymentBatchSize(1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindChunk, []byte("payload"))})
	events := drain(t, h)
	_, err := h.Wait()

	require.Error(t, err)
	maxErr, ok := err.(*UploadFailedWithMaximumRepaymentsReached)
	require.True(t, ok)
	require.Len(t, maxErr.Items, 1)
	assert.Equal(t, key, maxErr.Items[0])

	var sawMaxRepayments bool
	for _, e := range events {
		if e.Kind == EventError && e.Err == ErrMaxRepaymentsReached {
			sawMaxRepayments = true
		}
	}
	assert.True(t, sawMaxRepayments)
}

func TestUploaderRegisterMergePushSkipsCostAndPayment(t *testing.T) {
	key := kadid.Key{0x05}
	net := newScriptedNetwork()
	net.registers[key] = nil // remote copy found -> merge and push, no error
	pay := &countingPayer{}

	u := New(net, pay, 1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindRegister, []byte("entries"))})
	events := drain(t, h)
	summary, err := h.Wait()

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRegisterUpdated, events[0].Kind)
	assert.Equal(t, 0, pay.calls)
	assert.Equal(t, []kadid.Key{key}, summary.UploadedRegisters)
}

func TestUploaderRegisterNotFoundFallsThroughToNormalPipeline(t *testing.T) {
	key := kadid.Key{0x06}
	net := newScriptedNetwork()
	net.registers[key] = ErrNotFound
	net.costs[key] = []costStep{{cost: 5}}
	pay := &countingPayer{}

	u := New(net, pay, 1).WithPaymentBatchSize(1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindRegister, []byte("entries"))})
	events := drain(t, h)
	summary, err := h.Wait()

	require.NoError(t, err)
	assert.Equal(t, 1, summary.UploadedCount)
	var sawRegisterUploaded bool
	for _, e := range events {
		if e.Kind == EventRegisterUploaded {
			sawRegisterUploaded = true
		}
	}
	assert.True(t, sawRegisterUploaded)
}

func TestUploaderHandleCloseStopsRunPromptly(t *testing.T) {
	key := kadid.Key{0x07}
	net := newScriptedNetwork()
	net.costs[key] = []costStep{{cost: 10}}
	pay := &countingPayer{}

	u := New(net, pay, 1)
	h := u.Run(context.Background(), []UploadItem{NewUploadItem(key, KindChunk, []byte("x"))})
	h.Close()

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("handle did not stop after Close")
	}
}

var assertErr = &uploadFailure{}

type uploadFailure struct{}

func (e *uploadFailure) Error() string { return "simulated upload failure" }
