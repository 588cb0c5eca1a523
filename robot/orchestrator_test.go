package robot

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"pharmabot/repository"
)

type fakeItem struct {
	id           int64
	orderID      int64
	orderCreated time.Time
	status       string
}

type fakeStore struct {
	mu     sync.Mutex
	items  []*fakeItem
	orders map[int64]string

	pickedErr  *repository.RepositoryError
	pickedErrs map[int64]*repository.RepositoryError
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[int64]string), pickedErrs: make(map[int64]*repository.RepositoryError)}
}

func (s *fakeStore) addItem(id, orderID int64, created time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, &fakeItem{id: id, orderID: orderID, orderCreated: created, status: "PENDING"})
	if _, ok := s.orders[orderID]; !ok {
		s.orders[orderID] = "PENDING"
	}
}

func (s *fakeStore) NextPendingItem(skip []int64) (*repository.PickCandidate, *repository.RepositoryError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipped := make(map[int64]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}

	eligible := make([]*fakeItem, 0, len(s.items))
	for _, it := range s.items {
		if it.status == "PENDING" && !skipped[it.id] && s.orders[it.orderID] != "ARCHIVED" {
			eligible = append(eligible, it)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].orderCreated.Equal(eligible[j].orderCreated) {
			return eligible[i].orderCreated.Before(eligible[j].orderCreated)
		}
		return eligible[i].id < eligible[j].id
	})
	it := eligible[0]
	return &repository.PickCandidate{ItemID: it.id, OrderID: it.orderID, LocationCode: "A-12", Name: "Amoxicillin 500mg"}, nil
}

func (s *fakeStore) MarkOrderProcessing(orderID int64) *repository.RepositoryError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders[orderID] == "PENDING" {
		s.orders[orderID] = "PROCESSING"
	}
	return nil
}

func (s *fakeStore) MarkItemPicked(itemID int64) *repository.RepositoryError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.pickedErrs[itemID]; ok && err != nil {
		return err
	}
	if s.pickedErr != nil {
		return s.pickedErr
	}
	for _, it := range s.items {
		if it.id == itemID {
			it.status = "PICKED"
			return nil
		}
	}
	return &repository.RepositoryError{Code: repository.ErrCodeNotFound, Message: "Order item not found"}
}

func (s *fakeStore) itemStatus(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.id == id {
			return it.status
		}
	}
	return ""
}

func newTestOrchestrator(store *fakeStore, c *Controller) *Orchestrator {
	return NewOrchestrator(store, c, time.Hour, 3, testLogger())
}

func TestRunOncePicksOldestOrderFirst(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.addItem(10, 2, base.Add(time.Minute))
	store.addItem(5, 1, base)
	store.addItem(6, 1, base)

	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)
	o := newTestOrchestrator(store, c)

	o.runOnce()

	if got := store.itemStatus(5); got != "PICKED" {
		t.Fatalf("expected item 5 (oldest order, lowest id) picked first, status %s", got)
	}
	if store.itemStatus(6) != "PENDING" || store.itemStatus(10) != "PENDING" {
		t.Fatal("only one item may be picked per pass")
	}
	if store.orders[1] != "PROCESSING" {
		t.Fatalf("order 1 should be PROCESSING, got %s", store.orders[1])
	}
}

func TestRunOnceIdleWhenAutoPickDisabled(t *testing.T) {
	store := newFakeStore()
	store.addItem(1, 1, time.Now())

	c := newTestController(&fakeSignaler{})
	o := newTestOrchestrator(store, c)

	o.runOnce()

	if store.itemStatus(1) != "PENDING" {
		t.Fatal("orchestrator must not pick with autopick disabled")
	}
}

func TestRunOnceIdleWhenRobotBusy(t *testing.T) {
	store := newFakeStore()
	store.addItem(1, 1, time.Now())

	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)
	if _, err := c.Pick(99, "Z-99"); err != nil {
		t.Fatalf("manual pick failed: %v", err)
	}

	newTestOrchestrator(store, c).runOnce()

	if store.itemStatus(1) != "PENDING" {
		t.Fatal("orchestrator must not start a second job")
	}
}

func TestRunOnceIdleWhenPaused(t *testing.T) {
	store := newFakeStore()
	store.addItem(1, 1, time.Now())

	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)
	c.SetMode(ModePaused)

	newTestOrchestrator(store, c).runOnce()

	if store.itemStatus(1) != "PENDING" {
		t.Fatal("orchestrator must not pick while paused")
	}
}

func TestFailingItemIsSkippedAfterCap(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	store.addItem(1, 1, base)
	store.addItem(2, 2, base.Add(time.Minute))
	store.pickedErrs[1] = &repository.RepositoryError{Code: repository.ErrCodeDatabase, Message: "boom"}

	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)
	o := newTestOrchestrator(store, c)

	// Item 1 fails up to the cap; the robot must be freed each time.
	for i := 0; i < 3; i++ {
		o.runOnce()
		if c.CurrentJob() != nil {
			t.Fatalf("pass %d: failed pick left the robot busy", i)
		}
		if store.itemStatus(1) != "PENDING" {
			t.Fatalf("pass %d: failing item must stay pending", i)
		}
	}

	// Past the cap, work moves on to the next order.
	o.runOnce()
	if store.itemStatus(2) != "PICKED" {
		t.Fatal("capped item must be skipped so later orders make progress")
	}
}

func TestResetFailuresRevivesCappedItem(t *testing.T) {
	store := newFakeStore()
	store.addItem(1, 1, time.Now())
	store.pickedErrs[1] = &repository.RepositoryError{Code: repository.ErrCodeDatabase, Message: "boom"}

	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)
	o := newTestOrchestrator(store, c)

	for i := 0; i < 3; i++ {
		o.runOnce()
	}
	delete(store.pickedErrs, 1)

	// Still capped: nothing happens.
	o.runOnce()
	if store.itemStatus(1) != "PENDING" {
		t.Fatal("capped item ran before a reset")
	}

	o.ResetFailures()
	o.runOnce()
	if store.itemStatus(1) != "PICKED" {
		t.Fatal("reset must make the item eligible again")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	c := newTestController(&fakeSignaler{})
	o := NewOrchestrator(store, c, 5*time.Millisecond, 3, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	cancel()

	// Give the loop a moment to exit; afterwards no passes may run.
	time.Sleep(20 * time.Millisecond)
	store.addItem(1, 1, time.Now())
	c.SetAutoPick(true)
	time.Sleep(30 * time.Millisecond)

	if store.itemStatus(1) != "PENDING" {
		t.Fatal("orchestrator kept running after cancellation")
	}
}
