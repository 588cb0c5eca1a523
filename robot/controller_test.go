package robot

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pharmabot/hardware"
)

type recordedSignal struct {
	addr      string
	color     string
	animation string
}

type fakeSignaler struct {
	mu      sync.Mutex
	signals []recordedSignal
}

func (f *fakeSignaler) SignalVisual(addr, color, animation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, recordedSignal{addr, color, animation})
}

func (f *fakeSignaler) last() (recordedSignal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.signals) == 0 {
		return recordedSignal{}, false
	}
	return f.signals[len(f.signals)-1], true
}

func (f *fakeSignaler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(sig *fakeSignaler) *Controller {
	return NewController(sig, "node-1", 20*time.Millisecond, testLogger())
}

func TestPickRejectsSecondJob(t *testing.T) {
	c := newTestController(&fakeSignaler{})

	if _, err := c.Pick(1, "A-12"); err != nil {
		t.Fatalf("first pick failed: %v", err)
	}
	if _, err := c.Pick(2, "B-05"); err != ErrRobotBusy {
		t.Fatalf("expected ErrRobotBusy, got %v", err)
	}
}

func TestConcurrentPicksYieldOneJob(t *testing.T) {
	c := newTestController(&fakeSignaler{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := c.Pick(id, "A-12"); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("expected exactly one pick to win, got %d", won)
	}
}

func TestPickRefusedWhenNotOperational(t *testing.T) {
	for _, mode := range []Mode{ModeRunning, ModePaused, ModeFault, ModeOffline} {
		c := newTestController(&fakeSignaler{})
		c.SetMode(mode)

		if _, err := c.Pick(1, "A-12"); err != ErrRobotOffline {
			t.Errorf("mode %s: expected ErrRobotOffline, got %v", mode, err)
		}
		if c.CurrentJob() != nil {
			t.Errorf("mode %s: refused pick must not leave a job behind", mode)
		}
	}
}

func TestModeVisuals(t *testing.T) {
	cases := []struct {
		mode      Mode
		color     string
		animation string
	}{
		{ModeOperational, hardware.ColorStandbyBlue, hardware.AnimStatic},
		{ModeRunning, hardware.ColorRunningAmber, hardware.AnimPulse},
		{ModePaused, hardware.ColorPausedYellow, hardware.AnimStatic},
		{ModeFault, hardware.ColorFaultPurple, hardware.AnimBlink},
	}
	for _, tc := range cases {
		sig := &fakeSignaler{}
		c := newTestController(sig)
		c.SetMode(tc.mode)

		got, ok := sig.last()
		if !ok {
			t.Fatalf("mode %s: no signal sent", tc.mode)
		}
		if got.color != tc.color || got.animation != tc.animation {
			t.Errorf("mode %s: got %s/%s, want %s/%s", tc.mode, got.color, got.animation, tc.color, tc.animation)
		}
	}
}

func TestCompleteJobReturnsToStandbyAfterDelay(t *testing.T) {
	sig := &fakeSignaler{}
	c := newTestController(sig)

	if _, err := c.Pick(1, "A-12"); err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	c.CompleteJob()

	got, _ := sig.last()
	if got.color != hardware.ColorSuccessGreen {
		t.Fatalf("expected green after completion, got %s", got.color)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, _ := sig.last(); got.color == hardware.ColorStandbyBlue {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("LED never returned to standby blue")
}

func TestNewPickCancelsStandbyTimer(t *testing.T) {
	sig := &fakeSignaler{}
	c := newTestController(sig)

	if _, err := c.Pick(1, "A-12"); err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	c.CompleteJob()
	if _, err := c.Pick(2, "B-05"); err != nil {
		t.Fatalf("second pick failed: %v", err)
	}
	before := sig.count()

	time.Sleep(60 * time.Millisecond)

	// With a job in flight nothing may overwrite the working red signal.
	if sig.count() != before {
		got, _ := sig.last()
		if got.color == hardware.ColorStandbyBlue {
			t.Fatal("standby timer fired into an active job")
		}
	}
	if got, _ := sig.last(); got.color != hardware.ColorWorkingRed {
		t.Fatalf("expected working red during active job, got %s", got.color)
	}
}

func TestAbortJobClearsJob(t *testing.T) {
	sig := &fakeSignaler{}
	c := newTestController(sig)

	if _, err := c.Pick(1, "A-12"); err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	c.AbortJob()

	if c.CurrentJob() != nil {
		t.Fatal("abort must clear the current job")
	}
	if got, _ := sig.last(); got.color != hardware.ColorStandbyBlue {
		t.Fatalf("expected standby blue after abort, got %s", got.color)
	}
	if _, err := c.Pick(2, "B-05"); err != nil {
		t.Fatalf("pick after abort failed: %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	c := newTestController(&fakeSignaler{})
	c.SetAutoPick(true)

	job, err := c.Pick(7, "C-08")
	if err != nil {
		t.Fatalf("pick failed: %v", err)
	}

	s := c.Status()
	if s.Mode != ModeOperational || !s.Busy || !s.AutoPick {
		t.Fatalf("unexpected status %+v", s)
	}
	if s.Job == nil || s.Job.ID != job.ID {
		t.Fatal("status must carry the in-flight job")
	}

	// The snapshot is a copy: mutating it must not touch the controller.
	s.Job.OrderItemID = 999
	if c.CurrentJob().OrderItemID != 7 {
		t.Fatal("status snapshot leaked internal state")
	}
}

func TestRecordScanFlashesWhite(t *testing.T) {
	sig := &fakeSignaler{}
	c := newTestController(sig)

	result := c.RecordScan("node-3", "rfid", "TAG-1")
	if !result.Authorized {
		t.Fatal("expected authorized scan")
	}
	got, _ := sig.last()
	if got.addr != "node-3" || got.color != hardware.ColorScanWhite || got.animation != hardware.AnimFlash {
		t.Fatalf("unexpected scan signal %+v", got)
	}
}
