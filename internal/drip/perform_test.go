package drip_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/drip-engine/internal/drip"
)

func singleDripDripper(slug string, batchSize int) *drip.Dripper {
	dr := drip.NewDripper(slug, slug)
	dr.DefaultMailer = "m"
	dr.BatchSize = batchSize
	dr.MustDrip(&drip.Drip{Action: "only", Schedule: drip.Schedule{Delay: drip.In(time.Hour)}})
	return dr
}

func TestPerformProcessesAllDueInBatches(t *testing.T) {
	dr := singleDripDripper("bulk", 100)
	var batchSizes []int
	dr.OnPerform(func(dr *drip.Dripper, batch []*drip.Mailing) {
		batchSizes = append(batchSizes, len(batch))
	})
	engine, store, deliverer, c := newTestEngine(t, dr)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		if _, err := engine.Subscribe(ctx, "bulk", customer(fmt.Sprintf("c%d", i)), nil); err != nil {
			t.Fatal(err)
		}
	}
	c.Advance(2 * time.Hour)

	if err := engine.Perform(ctx, dr); err != nil {
		t.Fatalf("Perform: %v", err)
	}

	if deliverer.count() != 250 {
		t.Errorf("delivered = %d, want 250", deliverer.count())
	}
	if len(batchSizes) != 3 || batchSizes[0] != 100 || batchSizes[1] != 100 || batchSizes[2] != 50 {
		t.Errorf("batch sizes = %v, want [100 100 50]", batchSizes)
	}

	due, _ := store.DueMailings(ctx, "bulk", c.Now(), 10, nil)
	if len(due) != 0 {
		t.Errorf("%d mailings still due after perform", len(due))
	}
}

func TestPerformHooksFireOnce(t *testing.T) {
	dr := singleDripDripper("bulk", 10)
	var before, after int
	dr.BeforePerform(func(dr *drip.Dripper) { before++ })
	dr.AfterPerform(func(dr *drip.Dripper) { after++ })
	engine, _, _, c := newTestEngine(t, dr)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		engine.Subscribe(ctx, "bulk", customer(fmt.Sprintf("c%d", i)), nil)
	}
	c.Advance(2 * time.Hour)

	if err := engine.Perform(ctx, dr); err != nil {
		t.Fatal(err)
	}
	if before != 1 || after != 1 {
		t.Errorf("before_perform = %d, after_perform = %d, want 1 each", before, after)
	}
}

func TestPerformFailureDoesNotAbortBatch(t *testing.T) {
	dr := singleDripDripper("bulk", 100)
	engine, _, deliverer, c := newTestEngine(t, dr)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		engine.Subscribe(ctx, "bulk", customer(fmt.Sprintf("c%d", i)), nil)
	}
	c.Advance(2 * time.Hour)

	// Every mailing shares the target, so all five deliveries fail.
	deliverer.failWith["m#only"] = errors.New("smtp 451")

	err := engine.Perform(ctx, dr)
	if err == nil {
		t.Fatal("unhandled failures should propagate from Perform")
	}
	var df *drip.DeliveryFailure
	if !errors.As(err, &df) {
		t.Errorf("joined error does not contain DeliveryFailure: %v", err)
	}
	if deliverer.count() != 0 {
		t.Errorf("delivered = %d, want 0", deliverer.count())
	}
}

func TestPerformCancelledBetweenBatches(t *testing.T) {
	dr := singleDripDripper("bulk", 10)
	engine, _, _, c := newTestEngine(t, dr)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 30; i++ {
		engine.Subscribe(ctx, "bulk", customer(fmt.Sprintf("c%d", i)), nil)
	}
	c.Advance(2 * time.Hour)

	dr.OnPerform(func(dr *drip.Dripper, batch []*drip.Mailing) { cancel() })

	err := engine.Perform(ctx, dr)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Perform error = %v, want context.Canceled", err)
	}
}

func TestPerformAllSkipsInactive(t *testing.T) {
	active := singleDripDripper("active", 100)
	inactive := singleDripDripper("inactive", 100)
	inactive.Active = false

	engine, _, deliverer, c := newTestEngine(t, active, inactive)
	ctx := context.Background()

	engine.Subscribe(ctx, "active", customer("a"), nil)
	engine.Subscribe(ctx, "inactive", customer("b"), nil)
	c.Advance(2 * time.Hour)

	if err := engine.PerformAll(ctx); err != nil {
		t.Fatal(err)
	}
	if deliverer.count() != 1 {
		t.Errorf("delivered = %d, want 1 (inactive campaign must not deliver)", deliverer.count())
	}
}

func TestPerformAllNamedSubset(t *testing.T) {
	one := singleDripDripper("one", 100)
	two := singleDripDripper("two", 100)
	engine, _, deliverer, c := newTestEngine(t, one, two)
	ctx := context.Background()

	engine.Subscribe(ctx, "one", customer("a"), nil)
	engine.Subscribe(ctx, "two", customer("b"), nil)
	c.Advance(2 * time.Hour)

	if err := engine.PerformAll(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if deliverer.count() != 1 {
		t.Errorf("delivered = %d, want only campaign one", deliverer.count())
	}

	if err := engine.PerformAll(ctx, "missing"); !drip.IsNotFound(err) {
		t.Errorf("unknown slug error = %v, want NotFoundError", err)
	}
}

func TestClaimLeaseBlocksSecondWorker(t *testing.T) {
	dr := singleDripDripper("bulk", 100)
	engine, store, _, c := newTestEngine(t, dr)
	engine.Queue = &memoryQueue{} // park deliveries so the claim stays visible
	engine.ClaimLease = 5 * time.Minute
	ctx := context.Background()

	sub, _ := engine.Subscribe(ctx, "bulk", customer("a"), nil)
	c.Advance(2 * time.Hour)
	mailings, _ := store.MailingsForSubscription(ctx, sub.ID)
	m := mailings[0]

	if err := engine.Process(ctx, m); err != nil {
		t.Fatal(err)
	}
	// A second worker inside the lease window must not double-process.
	queue := engine.Queue.(*memoryQueue)
	if err := engine.Process(ctx, m); err != nil {
		t.Fatal(err)
	}
	if len(queue.ids) != 1 {
		t.Fatalf("enqueued = %d, want 1 (claim must block the second worker)", len(queue.ids))
	}

	// After the lease expires the mailing is claimable again.
	c.Advance(10 * time.Minute)
	if err := engine.Process(ctx, m); err != nil {
		t.Fatal(err)
	}
	if len(queue.ids) != 2 {
		t.Errorf("expired lease not reclaimable, enqueued = %d", len(queue.ids))
	}
}
