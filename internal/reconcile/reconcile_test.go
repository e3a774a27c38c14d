package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"keygate/internal/billing"
	"keygate/internal/credential"
	"keygate/internal/pickup"
	"keygate/internal/store"
	"keygate/internal/store/memory"
	"keygate/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu        sync.Mutex
	items     map[string]string
	itemCalls int
	err       error
	// gate, when set, is waited on inside FirstSubscriptionItem
	gate *sync.WaitGroup
	// hold, when set, runs once inside the first FirstSubscriptionItem call
	hold func()
}

func (f *fakeProcessor) CreateCheckoutSession(context.Context) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_test"}, nil
}

func (f *fakeProcessor) FirstSubscriptionItem(_ context.Context, subscriptionID string) (string, error) {
	f.mu.Lock()
	f.itemCalls++
	err := f.err
	item, ok := f.items[subscriptionID]
	hold := f.hold
	f.hold = nil
	f.mu.Unlock()

	if hold != nil {
		hold()
	}
	if f.gate != nil {
		f.gate.Done()
		f.gate.Wait()
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", billing.ErrNoSubscriptionItems
	}
	return item, nil
}

func (f *fakeProcessor) ReportUsage(context.Context, billing.UsageReport) (*billing.UsageRecord, error) {
	return nil, errors.New("not used")
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemCalls
}

type recordingDelivery struct {
	mu     sync.Mutex
	issued []pickup.Issued
}

func (d *recordingDelivery) Deliver(_ context.Context, issued pickup.Issued) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issued = append(d.issued, issued)
	return nil
}

func (d *recordingDelivery) all() []pickup.Issued {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]pickup.Issued(nil), d.issued...)
}

// collidingStore reports a credential collision for the first n inserts
type collidingStore struct {
	store.Store
	mu         sync.Mutex
	collisions int
}

func (c *collidingStore) CreateAccount(ctx context.Context, a *store.Account) error {
	c.mu.Lock()
	if c.collisions > 0 {
		c.collisions--
		c.mu.Unlock()
		return store.ErrCredentialExists
	}
	c.mu.Unlock()
	return c.Store.CreateAccount(ctx, a)
}

type fixture struct {
	store     store.Store
	processor *fakeProcessor
	delivery  *recordingDelivery
	rec       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	return newFixtureWithStore(t, s)
}

func newFixtureWithStore(t *testing.T, s store.Store) *fixture {
	t.Helper()
	p := &fakeProcessor{items: map[string]string{"sub_1": "si_1", "sub_2": "si_2"}}
	d := &recordingDelivery{}
	return &fixture{
		store:     s,
		processor: p,
		delivery:  d,
		rec:       New(s, p, credential.NewGenerator(s, 0), d),
	}
}

func checkoutEvent(eventID, customerID, subscriptionID string) *webhook.Event {
	return &webhook.Event{
		ID:   eventID,
		Type: webhook.TypeCheckoutCompleted,
		Data: []byte(fmt.Sprintf(`{"id":"cs_%s","customer":%q,"subscription":%q}`, eventID, customerID, subscriptionID)),
	}
}

func invoiceEvent(eventType, eventID, customerID string) *webhook.Event {
	return &webhook.Event{
		ID:   eventID,
		Type: eventType,
		Data: []byte(fmt.Sprintf(`{"id":"in_%s","customer":%q}`, eventID, customerID)),
	}
}

func TestCheckoutCompleted_CreatesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.rec.Apply(ctx, checkoutEvent("evt_1", "cus_1", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	account, err := f.store.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, account.Active)
	assert.Equal(t, "si_1", account.SubscriptionItemID)

	issued := f.delivery.all()
	require.Len(t, issued, 1)
	assert.Equal(t, "cs_evt_1", issued[0].SessionID)
	assert.Equal(t, "cus_1", issued[0].CustomerID)

	raw := issued[0].Credential
	assert.Equal(t, credential.Hash(raw), account.HashedCredential)
	assert.NotEqual(t, raw, account.HashedCredential)

	customerID, err := f.store.CustomerForCredential(ctx, account.HashedCredential)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", customerID)

	// The raw value is not an index key
	_, err = f.store.CustomerForCredential(ctx, raw)
	assert.ErrorIs(t, err, store.ErrCredentialNotFound)
}

func TestCheckoutCompleted_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.Apply(ctx, checkoutEvent("evt_1", "cus_1", "sub_1"))
	require.NoError(t, err)
	first, err := f.store.GetAccount(ctx, "cus_1")
	require.NoError(t, err)

	outcome, err := f.rec.Apply(ctx, checkoutEvent("evt_2", "cus_1", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	second, err := f.store.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, first.HashedCredential, second.HashedCredential)
	assert.Len(t, f.delivery.all(), 1)
	assert.Equal(t, 1, f.processor.calls())
}

func TestCheckoutCompleted_ConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcomes := make(chan Outcome, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.rec.Apply(ctx, checkoutEvent(fmt.Sprintf("evt_%d", i), "cus_1", "sub_1"))
			assert.NoError(t, err)
			outcomes <- outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)

	created := 0
	for outcome := range outcomes {
		if outcome == OutcomeCreated {
			created++
		} else {
			assert.Equal(t, OutcomeDuplicate, outcome)
		}
	}
	assert.Equal(t, 1, created, "only the delivery that issued the credential reports created")

	issued := f.delivery.all()
	require.Len(t, issued, 1)
	account, err := f.store.GetAccount(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, credential.Hash(issued[0].Credential), account.HashedCredential)
}

func TestCheckoutCompleted_JoinedFlightReportsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	f.processor.hold = func() {
		close(entered)
		<-release
	}

	first := make(chan Outcome, 1)
	go func() {
		outcome, err := f.rec.Apply(ctx, checkoutEvent("evt_1", "cus_1", "sub_1"))
		assert.NoError(t, err)
		first <- outcome
	}()
	<-entered

	second := make(chan Outcome, 1)
	go func() {
		outcome, err := f.rec.Apply(ctx, checkoutEvent("evt_2", "cus_1", "sub_1"))
		assert.NoError(t, err)
		second <- outcome
	}()

	// Give the second delivery time to join the in-flight issuance
	time.Sleep(50 * time.Millisecond)
	close(release)

	assert.Equal(t, OutcomeCreated, <-first)
	assert.Equal(t, OutcomeDuplicate, <-second)
	assert.Len(t, f.delivery.all(), 1)
	assert.Equal(t, 1, f.processor.calls())
}

func TestCheckoutCompleted_RaceAcrossReconcilers(t *testing.T) {
	// Two reconcilers share a store but not an in-flight group, as two
	// gateway replicas would. Both pass the existence check before either
	// inserts; the store must let exactly one win.
	s := memory.New()
	gate := &sync.WaitGroup{}
	gate.Add(2)

	p := &fakeProcessor{items: map[string]string{"sub_1": "si_1"}, gate: gate}
	d := &recordingDelivery{}
	a := New(s, p, credential.NewGenerator(s, 0), d)
	b := New(s, p, credential.NewGenerator(s, 0), d)

	ctx := context.Background()
	outcomes := make(chan Outcome, 2)
	for i, r := range []*Reconciler{a, b} {
		go func(i int, r *Reconciler) {
			outcome, err := r.Apply(ctx, checkoutEvent(fmt.Sprintf("evt_%d", i), "cus_1", "sub_1"))
			assert.NoError(t, err)
			outcomes <- outcome
		}(i, r)
	}

	got := []Outcome{<-outcomes, <-outcomes}
	assert.ElementsMatch(t, []Outcome{OutcomeCreated, OutcomeDuplicate}, got)
	assert.Len(t, d.all(), 1)
	assert.Equal(t, 2, p.calls())
}

func TestCheckoutCompleted_CollisionAtInsertRegenerates(t *testing.T) {
	s := &collidingStore{Store: memory.New(), collisions: 2}
	f := newFixtureWithStore(t, s)

	outcome, err := f.rec.Apply(context.Background(), checkoutEvent("evt_1", "cus_1", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Len(t, f.delivery.all(), 1)
}

func TestCheckoutCompleted_CollisionExhausted(t *testing.T) {
	s := &collidingStore{Store: memory.New(), collisions: 100}
	f := newFixtureWithStore(t, s)

	_, err := f.rec.Apply(context.Background(), checkoutEvent("evt_1", "cus_1", "sub_1"))
	assert.ErrorIs(t, err, credential.ErrGenerationExhausted)
	assert.Empty(t, f.delivery.all())

	_, err = s.GetAccount(context.Background(), "cus_1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestCheckoutCompleted_ProcessorFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.processor.err = errors.New("stripe unavailable")

	_, err := f.rec.Apply(context.Background(), checkoutEvent("evt_1", "cus_1", "sub_1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, webhook.ErrMalformedPayload)

	_, err = f.store.GetAccount(context.Background(), "cus_1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestCheckoutCompleted_MalformedPayload(t *testing.T) {
	f := newFixture(t)

	ev := &webhook.Event{ID: "evt_1", Type: webhook.TypeCheckoutCompleted, Data: []byte(`{"id":"cs_1","customer":"cus_1"}`)}
	_, err := f.rec.Apply(context.Background(), ev)
	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
	assert.Equal(t, 0, f.processor.calls())
}

func TestCheckoutCompleted_MissingSessionIssuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := &webhook.Event{ID: "evt_1", Type: webhook.TypeCheckoutCompleted, Data: []byte(`{"customer":"cus_1","subscription":"sub_1"}`)}
	_, err := f.rec.Apply(ctx, ev)
	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
	assert.Equal(t, 0, f.processor.calls())

	_, err = f.store.GetAccount(ctx, "cus_1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	// A later well-formed delivery still issues a credential
	outcome, err := f.rec.Apply(ctx, checkoutEvent("evt_2", "cus_1", "sub_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	require.Len(t, f.delivery.all(), 1)
	assert.Equal(t, "cs_evt_2", f.delivery.all()[0].SessionID)
}

func TestInvoiceEvents_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.Apply(ctx, checkoutEvent("evt_1", "cus_1", "sub_1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outcome, err := f.rec.Apply(ctx, invoiceEvent(webhook.TypeInvoicePaymentFailed, fmt.Sprintf("evt_f%d", i), "cus_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeactivated, outcome)

		account, err := f.store.GetAccount(ctx, "cus_1")
		require.NoError(t, err)
		assert.False(t, account.Active)
	}

	for i := 0; i < 2; i++ {
		outcome, err := f.rec.Apply(ctx, invoiceEvent(webhook.TypeInvoicePaid, fmt.Sprintf("evt_p%d", i), "cus_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeActivated, outcome)

		account, err := f.store.GetAccount(ctx, "cus_1")
		require.NoError(t, err)
		assert.True(t, account.Active)
	}
}

func TestInvoiceEvents_UnknownCustomer(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.rec.Apply(context.Background(), invoiceEvent(webhook.TypeInvoicePaid, "evt_1", "cus_unknown"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	_, err = f.store.GetAccount(context.Background(), "cus_unknown")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestInvoiceEvents_Malformed(t *testing.T) {
	f := newFixture(t)

	ev := &webhook.Event{ID: "evt_1", Type: webhook.TypeInvoicePaid, Data: []byte(`{"id":"in_1"}`)}
	_, err := f.rec.Apply(context.Background(), ev)
	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.rec.Apply(context.Background(), &webhook.Event{ID: "evt_1", Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}
