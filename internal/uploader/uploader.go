package uploader

import (
	"context"
	"errors"
	"sync"

	"storacore/internal/kadid"
	"storacore/internal/nodelogic"
)

// Tuning constants pinned by spec.md §4.F.
const (
	defaultBatchSize        = 16
	defaultPaymentBatchSize = 512
	sequentialErrorLimit    = 3
)

// Uploader drives the three-queue pipeline for one logical peer. It holds
// no per-run state; Run spawns a fresh pipeline for each batch of items.
type Uploader struct {
	network          Network
	payment          PaymentOption
	batchSize        int
	paymentBatchSize int
	maxRepayments    int
}

// New builds an Uploader. maxRepayments is max_repayments_for_failed_data:
// the number of times an item may be requoted against a different payee
// after two consecutive upload failures.
func New(network Network, payment PaymentOption, maxRepayments int) *Uploader {
	return &Uploader{
		network:          network,
		payment:          payment,
		batchSize:        defaultBatchSize,
		paymentBatchSize: defaultPaymentBatchSize,
		maxRepayments:    maxRepayments,
	}
}

// WithBatchSize overrides the default get-cost/upload parallelism.
func (u *Uploader) WithBatchSize(n int) *Uploader {
	u.batchSize = n
	return u
}

// WithPaymentBatchSize overrides the default payment batch threshold.
func (u *Uploader) WithPaymentBatchSize(n int) *Uploader {
	u.paymentBatchSize = n
	return u
}

// Handle is a running upload batch. Events streams as items resolve; Wait
// blocks for the run to finish and returns the final tally. Close cancels
// the run, the client-side equivalent of spec.md §5's "cancellation via
// dropping the handle" — in-flight network calls finish, observe the
// closed queues, and exit without touching further state.
type Handle struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	summary UploadSummary
	err     error
}

// Events returns the run's event stream. It closes once every item has
// reached a terminal state.
func (h *Handle) Events() <-chan Event { return h.events }

// Wait blocks until the run completes and returns the final summary, plus
// a non-nil error naming any items that exhausted their repayment budget.
func (h *Handle) Wait() (UploadSummary, error) {
	<-h.done
	return h.summary, h.err
}

// Close cancels the run. Safe to call multiple times.
func (h *Handle) Close() { h.cancel() }

// Run starts uploading items and returns immediately with a Handle.
func (u *Uploader) Run(ctx context.Context, items []UploadItem) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		events: make(chan Event, 100),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go u.orchestrate(ctx, items, h)
	return h
}

type probeOutcome struct {
	item *UploadItem
	data []byte
	err  error
}

type costOutcome struct {
	item  *UploadItem
	quote *nodelogic.Quote
	err   error
}

type paymentOutcome struct {
	items    []*UploadItem
	receipts []Receipt
	err      error
}

type uploadOutcome struct {
	item *UploadItem
	err  error
}

func (u *Uploader) orchestrate(ctx context.Context, items []UploadItem, h *Handle) {
	defer close(h.done)
	defer cancelQuietly(h.cancel)

	tracked := make([]*UploadItem, len(items))
	for i := range items {
		cp := items[i]
		tracked[i] = &cp
	}

	probeQueue := make(chan *UploadItem, 4*(len(tracked)+1))
	costQueue := make(chan *UploadItem, 4*(len(tracked)+1))
	uploadQueue := make(chan *UploadItem, 4*(len(tracked)+1))
	probeCh := make(chan probeOutcome, 4*(len(tracked)+1))
	costCh := make(chan costOutcome, 4*(len(tracked)+1))
	payCh := make(chan paymentOutcome, 4*(len(tracked)+1))
	uploadCh := make(chan uploadOutcome, 4*(len(tracked)+1))

	var wg sync.WaitGroup
	for i := 0; i < u.batchSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range probeQueue {
				data, err := u.network.GetRegister(ctx, it.Key)
				probeCh <- probeOutcome{it, data, err}
			}
		}()
	}
	for i := 0; i < u.batchSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range costQueue {
				quote, err := u.network.GetStoreCost(ctx, it.Key, it.strategy)
				costCh <- costOutcome{it, quote, err}
			}
		}()
	}
	for i := 0; i < u.batchSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range uploadQueue {
				proof := &nodelogic.PaymentProof{Quote: *it.quote, TxHash: it.receipt.TxHash}
				var err error
				if it.Kind == KindRegister {
					err = u.network.UploadRegister(ctx, it.Key, it.Data, proof)
				} else {
					err = u.network.UploadChunk(ctx, it.Key, it.Data, proof)
				}
				uploadCh <- uploadOutcome{it, err}
			}
		}()
	}

	var summary UploadSummary
	var maxRepaymentsFailed []kadid.Key
	var pendingPayment []*UploadItem
	inCostOrProbe := 0

	flushPayment := func(force bool) {
		if len(pendingPayment) == 0 {
			return
		}
		if !force && len(pendingPayment) < u.paymentBatchSize {
			return
		}
		batch := pendingPayment
		pendingPayment = nil
		quotes := make([]nodelogic.Quote, len(batch))
		for i, it := range batch {
			quotes[i] = *it.quote
		}
		go func() {
			receipts, err := u.payment.Pay(ctx, quotes)
			payCh <- paymentOutcome{batch, receipts, err}
		}()
	}

	for _, it := range tracked {
		if it.Kind == KindRegister {
			it.state = stateNeedsCost
			inCostOrProbe++
			probeQueue <- it
		} else {
			it.state = stateNeedsCost
			inCostOrProbe++
			costQueue <- it
		}
	}

	outstanding := len(tracked)
	for outstanding > 0 {
		select {
		case <-ctx.Done():
			outstanding = 0

		case r := <-probeCh:
			inCostOrProbe--
			switch {
			case errors.Is(r.err, ErrNotFound):
				inCostOrProbe++
				costQueue <- r.item
			case r.err != nil:
				r.item.networkErrors++
				if r.item.networkErrors >= sequentialErrorLimit {
					h.events <- Event{Kind: EventError, Key: r.item.Key, Err: ErrSequentialNetworkErrors}
					outstanding--
				} else {
					inCostOrProbe++
					probeQueue <- r.item
				}
			default:
				h.events <- Event{Kind: EventRegisterUpdated, Key: r.item.Key}
				summary.UploadedRegisters = append(summary.UploadedRegisters, r.item.Key)
				summary.UploadedCount++
				outstanding--
			}

		case r := <-costCh:
			inCostOrProbe--
			if r.err != nil {
				r.item.networkErrors++
				if r.item.networkErrors >= sequentialErrorLimit {
					h.events <- Event{Kind: EventError, Key: r.item.Key, Err: ErrSequentialNetworkErrors}
					outstanding--
				} else {
					inCostOrProbe++
					costQueue <- r.item
				}
			} else {
				r.item.networkErrors = 0
				if r.quote.Cost == 0 {
					h.events <- Event{Kind: EventAlreadyExists, Key: r.item.Key}
					summary.SkippedCount++
					outstanding--
				} else {
					r.item.quote = r.quote
					pendingPayment = append(pendingPayment, r.item)
				}
			}

		case r := <-payCh:
			if r.err != nil {
				for _, it := range r.items {
					it.paymentErrors++
					if it.paymentErrors >= sequentialErrorLimit {
						h.events <- Event{Kind: EventError, Key: it.Key, Err: ErrSequentialUploadPaymentError}
						outstanding--
					} else {
						pendingPayment = append(pendingPayment, it)
					}
				}
			} else {
				for i, it := range r.items {
					it.paymentErrors = 0
					it.receipt = r.receipts[i]
					h.events <- Event{Kind: EventPaymentMade, Key: it.Key, Tokens: it.receipt.Tokens}
					summary.StorageCost += it.quote.Cost
					uploadQueue <- it
				}
			}

		case r := <-uploadCh:
			if r.err != nil {
				r.item.uploadErrors++
				if r.item.uploadErrors >= 2 {
					r.item.uploadErrors = 0
					r.item.paymentsAttempted++
					r.item.strategy = StrategySelectDifferentPayee
					if r.item.paymentsAttempted > u.maxRepayments {
						h.events <- Event{Kind: EventError, Key: r.item.Key, Err: ErrMaxRepaymentsReached}
						maxRepaymentsFailed = append(maxRepaymentsFailed, r.item.Key)
						outstanding--
					} else {
						inCostOrProbe++
						costQueue <- r.item
					}
				} else {
					uploadQueue <- r.item
				}
			} else {
				r.item.uploadErrors = 0
				if r.item.Kind == KindRegister {
					h.events <- Event{Kind: EventRegisterUploaded, Key: r.item.Key}
					summary.UploadedRegisters = append(summary.UploadedRegisters, r.item.Key)
				} else {
					h.events <- Event{Kind: EventChunkUploaded, Key: r.item.Key}
					summary.UploadedAddresses = append(summary.UploadedAddresses, r.item.Key)
				}
				summary.UploadedCount++
				outstanding--
			}
		}
		flushPayment(inCostOrProbe == 0)
	}

	close(probeQueue)
	close(costQueue)
	close(uploadQueue)
	wg.Wait()
	close(h.events)

	h.summary = summary
	if len(maxRepaymentsFailed) > 0 {
		h.err = &UploadFailedWithMaximumRepaymentsReached{Items: maxRepaymentsFailed}
	}
}

func cancelQuietly(cancel context.CancelFunc) { cancel() }
