package robot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pharmabot/repository"
)

// WorkSource supplies pending pick work. Satisfied by
// *repository.Repository.
type WorkSource interface {
	NextPendingItem(skip []int64) (*repository.PickCandidate, *repository.RepositoryError)
	MarkOrderProcessing(orderID int64) *repository.RepositoryError
	MarkItemPicked(itemID int64) *repository.RepositoryError
}

// Orchestrator polls for pending order items and drives the robot through
// them one at a time. Single-flight by construction: a tick that finds the
// robot busy does nothing, so two jobs can never overlap.
type Orchestrator struct {
	store       WorkSource
	controller  *Controller
	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	failures map[int64]int

	logger *slog.Logger
}

// NewOrchestrator wires the scheduler to its work source and robot.
// maxAttempts caps how often one item may fail before it is skipped.
func NewOrchestrator(store WorkSource, controller *Controller, interval time.Duration, maxAttempts int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		controller:  controller,
		interval:    interval,
		maxAttempts: maxAttempts,
		failures:    make(map[int64]int),
		logger:      logger,
	}
}

// Start runs the scheduling loop until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				o.logger.Info("Orchestrator stopped")
				return
			case <-ticker.C:
				o.runOnce()
			}
		}
	}()
}

// runOnce performs one scheduling pass: gate on robot state, select the
// oldest eligible pending item, run the pick to completion.
func (o *Orchestrator) runOnce() {
	status := o.controller.Status()
	if !status.AutoPick || status.Busy {
		return
	}
	if status.Mode != ModeOperational {
		return
	}

	candidate, dbErr := o.store.NextPendingItem(o.skipList())
	if dbErr != nil {
		o.logger.Error("Work selection failed", "error", dbErr)
		return
	}
	if candidate == nil {
		return
	}

	if dbErr := o.store.MarkOrderProcessing(candidate.OrderID); dbErr != nil {
		o.logger.Error("Failed to mark order processing", "order_id", candidate.OrderID, "error", dbErr)
		return
	}

	job, err := o.controller.Pick(candidate.ItemID, candidate.LocationCode)
	if err != nil {
		// Lost the race against a manual pick; the item stays pending.
		o.logger.Info("Pick deferred", "order_item_id", candidate.ItemID, "reason", err)
		return
	}

	if dbErr := o.store.MarkItemPicked(candidate.ItemID); dbErr != nil {
		attempts := o.noteFailure(candidate.ItemID)
		o.logger.Error("Failed to mark item picked, aborting job",
			"order_item_id", candidate.ItemID, "job_id", job.ID, "attempts", attempts, "error", dbErr)
		o.controller.AbortJob()
		return
	}

	o.clearFailure(candidate.ItemID)
	o.controller.CompleteJob()
	o.logger.Info("Autopick finished item",
		"order_item_id", candidate.ItemID, "order_id", candidate.OrderID, "medication", candidate.Name)
}

// skipList returns the items that have hit the failure cap. They stay
// excluded until ResetFailures, so one poisoned row cannot wedge the queue.
func (o *Orchestrator) skipList() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	var skip []int64
	for itemID, n := range o.failures {
		if n >= o.maxAttempts {
			skip = append(skip, itemID)
		}
	}
	return skip
}

func (o *Orchestrator) noteFailure(itemID int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[itemID]++
	return o.failures[itemID]
}

func (o *Orchestrator) clearFailure(itemID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.failures, itemID)
}

// ResetFailures forgets all failure counts. Called when autopick is turned
// back on so previously capped items get another run.
func (o *Orchestrator) ResetFailures() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = make(map[int64]int)
}
