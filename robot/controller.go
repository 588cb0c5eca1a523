// Package robot holds the pick-robot state machine and the autopick
// orchestrator that feeds it work.
package robot

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"pharmabot/hardware"

	"github.com/google/uuid"
)

// Mode is the robot's operating state.
type Mode string

const (
	ModeOperational Mode = "OPERATIONAL"
	ModeRunning     Mode = "RUNNING"
	ModePaused      Mode = "PAUSED"
	ModeFault       Mode = "FAULT"
	ModeOffline     Mode = "OFFLINE"
)

var validModes = map[Mode]bool{
	ModeOperational: true,
	ModeRunning:     true,
	ModePaused:      true,
	ModeFault:       true,
	ModeOffline:     true,
}

// ValidMode reports whether s names a known robot mode.
func ValidMode(s string) bool {
	return validModes[Mode(s)]
}

var (
	// ErrRobotOffline means the robot cannot accept commands in its
	// current mode.
	ErrRobotOffline = errors.New("robot is not operational")
	// ErrRobotBusy means a pick is already in flight.
	ErrRobotBusy = errors.New("robot is busy with another job")
)

// Job is one in-flight pick.
type Job struct {
	ID           string    `json:"id"`
	OrderItemID  int64     `json:"order_item_id"`
	LocationCode string    `json:"location_code"`
	StartedAt    time.Time `json:"started_at"`
}

// Signaler drives node LEDs. Satisfied by *hardware.Gateway.
type Signaler interface {
	SignalVisual(addr, color, animation string)
}

type visual struct {
	color     string
	animation string
}

// Each mode has one LED state; operators read the robot's mode off the
// shelf without a terminal.
var modeVisuals = map[Mode]visual{
	ModeOperational: {hardware.ColorStandbyBlue, hardware.AnimStatic},
	ModeRunning:     {hardware.ColorRunningAmber, hardware.AnimPulse},
	ModePaused:      {hardware.ColorPausedYellow, hardware.AnimStatic},
	ModeFault:       {hardware.ColorFaultPurple, hardware.AnimBlink},
	ModeOffline:     {hardware.ColorOff, hardware.AnimStatic},
}

// Status is the externally visible robot state.
type Status struct {
	Mode     Mode `json:"mode"`
	Busy     bool `json:"busy"`
	AutoPick bool `json:"auto_pick"`
	Job      *Job `json:"current_job,omitempty"`
}

// Controller serializes access to the single physical robot. At most one
// job runs at a time; everything else queues behind the mutex.
type Controller struct {
	mu           sync.Mutex
	mode         Mode
	autoPick     bool
	currentJob   *Job
	signaler     Signaler
	primaryAddr  string
	standbyDelay time.Duration
	standbyTimer *time.Timer
	logger       *slog.Logger
}

// NewController starts the robot OPERATIONAL with autopick off.
// primaryAddr is the node whose LED mirrors the robot's state.
func NewController(signaler Signaler, primaryAddr string, standbyDelay time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		mode:         ModeOperational,
		signaler:     signaler,
		primaryAddr:  primaryAddr,
		standbyDelay: standbyDelay,
		logger:       logger,
	}
}

// SetMode switches the robot mode and mirrors it onto the primary node's
// LED. Any mode may follow any other; a FAULT is cleared by setting
// OPERATIONAL.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopStandbyTimerLocked()
	c.mode = mode
	if v, ok := modeVisuals[mode]; ok {
		c.signaler.SignalVisual(c.primaryAddr, v.color, v.animation)
	}
	c.logger.Info("Robot mode changed", "mode", mode)
}

// SetAutoPick toggles autonomous picking.
func (c *Controller) SetAutoPick(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoPick = enabled
	c.logger.Info("Autopick toggled", "enabled", enabled)
}

// Pick starts a job for one order item. Exactly one job may be in flight;
// a second caller gets ErrRobotBusy. The robot must be OPERATIONAL.
func (c *Controller) Pick(orderItemID int64, locationCode string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeOperational {
		return nil, ErrRobotOffline
	}
	if c.currentJob != nil {
		return nil, ErrRobotBusy
	}

	c.stopStandbyTimerLocked()
	job := &Job{
		ID:           uuid.NewString(),
		OrderItemID:  orderItemID,
		LocationCode: locationCode,
		StartedAt:    time.Now(),
	}
	c.currentJob = job
	c.signaler.SignalVisual(c.primaryAddr, hardware.ColorWorkingRed, hardware.AnimPulse)
	c.logger.Info("Pick started", "job_id", job.ID, "order_item_id", orderItemID, "location", locationCode)

	copied := *job
	return &copied, nil
}

// CompleteJob finishes the current job: green for a moment, then back to
// standby blue once the delay passes. A new pick before the delay fires
// cancels the pending standby signal.
func (c *Controller) CompleteJob() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentJob == nil {
		return
	}
	c.logger.Info("Pick completed", "job_id", c.currentJob.ID, "order_item_id", c.currentJob.OrderItemID)
	c.currentJob = nil
	c.signaler.SignalVisual(c.primaryAddr, hardware.ColorSuccessGreen, hardware.AnimStatic)

	c.stopStandbyTimerLocked()
	c.standbyTimer = time.AfterFunc(c.standbyDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.currentJob != nil {
			return
		}
		c.signaler.SignalVisual(c.primaryAddr, hardware.ColorStandbyBlue, hardware.AnimStatic)
	})
}

// AbortJob drops the current job without marking anything picked and
// returns the LED to standby.
func (c *Controller) AbortJob() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentJob == nil {
		return
	}
	c.logger.Warn("Pick aborted", "job_id", c.currentJob.ID, "order_item_id", c.currentJob.OrderItemID)
	c.currentJob = nil
	c.stopStandbyTimerLocked()
	c.signaler.SignalVisual(c.primaryAddr, hardware.ColorStandbyBlue, hardware.AnimStatic)
}

// ScanResult is the controller's answer to a badge or tag scan.
type ScanResult struct {
	Authorized bool   `json:"authorized"`
	Identity   string `json:"identity"`
}

// RecordScan acknowledges a scan at a node with a white flash. Personnel
// authorization is a fixed identity for now; there is no user directory
// behind it.
func (c *Controller) RecordScan(nodeAddr, kind, tagID string) ScanResult {
	c.signaler.SignalVisual(nodeAddr, hardware.ColorScanWhite, hardware.AnimFlash)
	c.logger.Info("Scan recorded", "addr", nodeAddr, "kind", kind, "tag", tagID)
	return ScanResult{Authorized: true, Identity: "PERSONNEL-01"}
}

// Status returns a snapshot of the robot's state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{Mode: c.mode, Busy: c.currentJob != nil, AutoPick: c.autoPick}
	if c.currentJob != nil {
		copied := *c.currentJob
		s.Job = &copied
	}
	return s
}

// CurrentJob returns a copy of the in-flight job, or nil.
func (c *Controller) CurrentJob() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentJob == nil {
		return nil
	}
	copied := *c.currentJob
	return &copied
}

func (c *Controller) stopStandbyTimerLocked() {
	if c.standbyTimer != nil {
		c.standbyTimer.Stop()
		c.standbyTimer = nil
	}
}
