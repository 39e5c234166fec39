package webhook_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/completion"
	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/outbox"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/cassiomorais/paygate/internal/gateway"
	"github.com/cassiomorais/paygate/internal/testutil"
	"github.com/cassiomorais/paygate/internal/validation"
	"github.com/cassiomorais/paygate/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router *webhook.Router
	outbox *testutil.MockOutboxRepository
	orders *testutil.MockOrderFinder
	dedupe *webhook.MemoryDedupe
}

func newFixture(t *testing.T, adapters ...gateway.Adapter) *fixture {
	t.Helper()
	if len(adapters) == 0 {
		adapters = []gateway.Adapter{
			testutil.NewMockGateway(payment.GatewayPaystack, 1),
			gateway.NewMockAdapter(payment.GatewayFlutterwave, 2, gateway.WithWebhookSecret("other-secret")),
		}
	}
	guard, err := validation.NewGuard(validation.DefaultPolicy())
	require.NoError(t, err)

	f := &fixture{
		outbox: testutil.NewMockOutboxRepository(),
		orders: testutil.NewMockOrderFinder(testutil.NewTestOrder("ORD-1", 250000)),
		dedupe: webhook.NewMemoryDedupe(),
	}
	dispatcher := completion.NewDispatcher(zerolog.Nop(), completion.NewOutboxWriter(f.outbox))
	registry := gateway.NewRegistry(gateway.DefaultBreakerSettings(), adapters...)
	f.router = webhook.NewRouter(registry, f.dedupe, f.orders, guard, dispatcher, webhook.WithDedupeTTL(time.Hour))
	return f
}

func TestHandleWebhook_HintedMatchSettles(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "paystack:ORD-1:charge.success", res.DedupeKey)
	assert.IsType(t, validation.Match{}, res.Decision)

	entries := f.outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(completion.EventSettled), entries[0].EventType)
	assert.Equal(t, "ORD-1", entries[0].OrderReference)
	assert.Equal(t, int64(250000), entries[0].Payload["amount_minor"])
}

func TestHandleWebhook_HintedSignatureFailureDoesNotFallBack(t *testing.T) {
	// flutterwave would accept this delivery, but the hint names paystack
	f := newFixture(t,
		gateway.NewMockAdapter(payment.GatewayPaystack, 1, gateway.WithWebhookSecret("paystack-secret")),
		testutil.NewMockGateway(payment.GatewayFlutterwave, 2),
	)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, domainErrors.ErrSignatureVerification)
	assert.Empty(t, f.outbox.Entries())
}

func TestHandleWebhook_UnknownHint(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayID("stripe"))

	assert.ErrorIs(t, err, domainErrors.ErrGatewayNotFound)
}

func TestHandleWebhook_HintedParseFailure(t *testing.T) {
	f := newFixture(t)
	_, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := f.router.HandleWebhook(context.Background(), []byte(`{"event":`), headers, payment.GatewayPaystack)

	assert.ErrorIs(t, err, domainErrors.ErrWebhookParse)
}

func TestHandleWebhook_TryAllPicksGatewayThatVerifies(t *testing.T) {
	f := newFixture(t,
		gateway.NewMockAdapter(payment.GatewayPaystack, 1, gateway.WithWebhookSecret("paystack-secret")),
		testutil.NewMockGateway(payment.GatewayOPay, 3),
	)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, "")

	require.NoError(t, err)
	assert.Equal(t, payment.GatewayOPay, res.GatewayID)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
}

func TestHandleWebhook_TryAllNoneVerify(t *testing.T) {
	f := newFixture(t,
		gateway.NewMockAdapter(payment.GatewayPaystack, 1, gateway.WithWebhookSecret("a")),
		gateway.NewMockAdapter(payment.GatewayOPay, 3, gateway.WithWebhookSecret("b")),
	)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := f.router.HandleWebhook(context.Background(), body, headers, "")

	var sigErr *domainErrors.SignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestHandleWebhook_SecondDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	first, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)
	second, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)

	assert.Equal(t, webhook.OutcomeProcessed, first.Outcome)
	assert.Equal(t, webhook.OutcomeDuplicate, second.Outcome)
	assert.Len(t, f.outbox.Entries(), 1)
}

func TestHandleWebhook_ConcurrentDuplicatesProcessOnce(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	const deliveries = 50
	var processed, duplicates atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := f.router.HandleWebhook(context.Background(), body, headers.Clone(), payment.GatewayPaystack)
			if err != nil {
				return
			}
			switch res.Outcome {
			case webhook.OutcomeProcessed:
				processed.Add(1)
			case webhook.OutcomeDuplicate:
				duplicates.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), processed.Load())
	assert.Equal(t, int32(deliveries-1), duplicates.Load())
	assert.Len(t, f.outbox.Entries(), 1)
}

func TestHandleWebhook_AutoCorrectsNairaForKobo(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 2500)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
	d, ok := res.Decision.(validation.AutoCorrected)
	require.True(t, ok)
	assert.Equal(t, int64(100), d.Multiplier)

	entries := f.outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(completion.EventSettled), entries[0].EventType)
	assert.Equal(t, int64(250000), entries[0].Payload["amount_minor"])
	assert.Equal(t, int64(2500), entries[0].Payload["reported_minor"])
	assert.Equal(t, int64(100), entries[0].Payload["multiplier"])
}

func TestHandleWebhook_MismatchIsBlockedButAcknowledged(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 100000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeBlocked, res.Outcome)
	blocked, ok := res.Decision.(validation.Blocked)
	require.True(t, ok)
	assert.Equal(t, validation.ReasonAmountMismatch, blocked.Reason)

	entries := f.outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(completion.EventDiscrepancy), entries[0].EventType)
	assert.Equal(t, "2.5", entries[0].Payload["ratio"])
	assert.NotContains(t, entries[0].Payload, "amount_minor")
}

func TestHandleWebhook_UnknownOrderIsBlocked(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("charge.success", "ORD-404", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeBlocked, res.Outcome)
	assert.Equal(t, validation.ReasonOrderNotFound, res.Decision.(validation.Blocked).Reason)
}

func TestHandleWebhook_ChargeFailedSkipsGuard(t *testing.T) {
	f := newFixture(t)
	f.orders.FindOrderFunc = func(context.Context, string) (*payment.Order, error) {
		t.Fatal("order lookup on a failed charge")
		return nil, nil
	}
	body, headers := testutil.MockWebhook("charge.failed", "ORD-1", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
	assert.Nil(t, res.Decision)
	entries := f.outbox.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(completion.EventFailed), entries[0].EventType)
}

func TestHandleWebhook_UnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	body, headers := testutil.MockWebhook("transfer.success", "ORD-1", 250000)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
	assert.Empty(t, f.outbox.Entries())
}

func TestHandleWebhook_DownstreamFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	var fail atomic.Bool
	fail.Store(true)
	f.outbox.InsertFunc = func(context.Context, *outbox.Entry) error {
		if fail.Load() {
			return errors.New("db down")
		}
		return nil
	}
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainErrors.ErrSignatureVerification)

	fail.Store(false)
	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)

	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
}

func TestHandleWebhook_OrderLookupFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.orders.FindOrderFunc = func(_ context.Context, ref string) (*payment.Order, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		o := testutil.NewTestOrder(ref, 250000)
		return &o, nil
	}
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.Error(t, err)

	res, err := f.router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
}

type txKey struct{}

type pendingTx struct {
	claims  []string
	entries []*outbox.Entry
}

// txDedupe stages claims and outbox rows on the transaction carried on the
// context and applies them only on commit.
type txDedupe struct {
	mu       sync.Mutex
	claims   map[string]bool
	entries  []*outbox.Entry
	released int
}

func newTxDedupe() *txDedupe {
	return &txDedupe{claims: map[string]bool{}}
}

func (d *txDedupe) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	p := &pendingTx{}
	if err := fn(context.WithValue(ctx, txKey{}, p)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range p.claims {
		d.claims[k] = true
	}
	d.entries = append(d.entries, p.entries...)
	return nil
}

func (d *txDedupe) Claim(ctx context.Context, key string, _ time.Duration) (string, bool, error) {
	p, ok := ctx.Value(txKey{}).(*pendingTx)
	if !ok {
		return "", false, errors.New("claim outside transaction")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claims[key] {
		return "", false, nil
	}
	p.claims = append(p.claims, key)
	return "token", true, nil
}

func (d *txDedupe) Release(context.Context, string, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

func (d *txDedupe) insert(ctx context.Context, entry *outbox.Entry) error {
	p, ok := ctx.Value(txKey{}).(*pendingTx)
	if !ok {
		return errors.New("insert outside transaction")
	}
	p.entries = append(p.entries, entry)
	return nil
}

func newTxRouter(t *testing.T, store *txDedupe, repo *testutil.MockOutboxRepository) *webhook.Router {
	t.Helper()
	guard, err := validation.NewGuard(validation.DefaultPolicy())
	require.NoError(t, err)
	registry := gateway.NewRegistry(gateway.DefaultBreakerSettings(), testutil.NewMockGateway(payment.GatewayPaystack, 1))
	orders := testutil.NewMockOrderFinder(testutil.NewTestOrder("ORD-1", 250000))
	dispatcher := completion.NewDispatcher(zerolog.Nop(), completion.NewOutboxWriter(repo))
	return webhook.NewRouter(registry, store, orders, guard, dispatcher, webhook.WithTransactions(store))
}

func TestHandleWebhook_TransactionCommitsClaimWithOutbox(t *testing.T) {
	store := newTxDedupe()
	repo := testutil.NewMockOutboxRepository()
	repo.InsertFunc = store.insert
	router := newTxRouter(t, store, repo)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	res, err := router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
	assert.True(t, store.claims["paystack:ORD-1:charge.success"])
	require.Len(t, store.entries, 1)

	res, err = router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, res.Outcome)
	assert.Len(t, store.entries, 1)
}

func TestHandleWebhook_TransactionRollsBackClaimWhenOutboxFails(t *testing.T) {
	store := newTxDedupe()
	repo := testutil.NewMockOutboxRepository()
	var fail atomic.Bool
	fail.Store(true)
	repo.InsertFunc = func(ctx context.Context, entry *outbox.Entry) error {
		if fail.Load() {
			return errors.New("db down")
		}
		return store.insert(ctx, entry)
	}
	router := newTxRouter(t, store, repo)
	body, headers := testutil.MockWebhook("charge.success", "ORD-1", 250000)

	_, err := router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.Error(t, err)
	assert.Empty(t, store.claims, "claim must not outlive the failed outbox insert")
	assert.Empty(t, store.entries)
	assert.Zero(t, store.released, "rollback undoes the claim")

	fail.Store(false)
	res, err := router.HandleWebhook(context.Background(), body, headers, payment.GatewayPaystack)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeProcessed, res.Outcome)
	assert.Len(t, store.entries, 1)
}
