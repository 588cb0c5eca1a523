// Package hardware talks HTTP to the pick-and-place fleet nodes. Nodes are
// embedded devices on a flaky link: every call is bounded by a timeout, and
// callers get degraded-but-usable results instead of hanging.
package hardware

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// LED colors understood by the fleet firmware, as RGB hex.
const (
	ColorOff          = "000000"
	ColorStandbyBlue  = "0000FF"
	ColorWorkingRed   = "FF0000"
	ColorRunningAmber = "FFA500"
	ColorPausedYellow = "FFFF00"
	ColorFaultPurple  = "800080"
	ColorSuccessGreen = "00FF00"
	ColorScanWhite    = "FFFFFF"
)

// LED animation modes.
const (
	AnimStatic = "STATIC"
	AnimPulse  = "PULSE"
	AnimBlink  = "BLINK"
	AnimFlash  = "FLASH"
)

// Config bounds each class of node call separately: LED writes are
// fire-and-forget and cheap to abandon, tag reads are worth waiting on.
type Config struct {
	VisualTimeout    time.Duration `mapstructure:"visual_timeout"`
	IdentifyTimeout  time.Duration `mapstructure:"identify_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdentifyDuration time.Duration `mapstructure:"identify_duration"`
}

// DefaultConfig returns the firmware-tested timeouts.
func DefaultConfig() Config {
	return Config{
		VisualTimeout:    2 * time.Second,
		IdentifyTimeout:  2 * time.Second,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     3 * time.Second,
		IdentifyDuration: 5 * time.Second,
	}
}

// TagData is the payload read off a physical tag. Synthetic marks values the
// gateway fabricated because the node never answered.
type TagData struct {
	Kind      string `json:"type"`
	Payload   string `json:"data"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// TagWriteResult reports whether a tag write reached the node. An
// uncommitted write means the physical tag still holds its old contents.
type TagWriteResult struct {
	Kind      string `json:"type"`
	Committed bool   `json:"committed"`
}

// Gateway is the single egress point for node traffic.
type Gateway struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// NewGateway builds a gateway with its own HTTP client; the per-call
// timeouts come from cfg, not the client.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: &http.Client{},
		cfg:    cfg,
		logger: logger,
	}
}

// nodeURL forms a node base URL. Fleet nodes usually advertise bare IPv6
// literals, which need brackets in a URL; host:port and IPv4 addresses must
// pass through untouched.
func nodeURL(addr, path string) string {
	if ip := net.ParseIP(addr); ip != nil && strings.Contains(addr, ":") {
		return fmt.Sprintf("http://[%s]%s", addr, path)
	}
	return fmt.Sprintf("http://%s%s", addr, path)
}

func (g *Gateway) postJSON(ctx context.Context, addr, path string, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL(addr, path), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.client.Do(req)
}

// SignalVisual sets a node's LED. Best effort: a dead node must never stall
// the caller, so failures are logged and swallowed.
func (g *Gateway) SignalVisual(addr, color, animation string) {
	if addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.VisualTimeout)
	defer cancel()

	resp, err := g.postJSON(ctx, addr, "/led", map[string]string{
		"color":     color,
		"animation": animation,
	})
	if err != nil {
		g.logger.Warn("Visual signal dropped", "addr", addr, "color", color, "error", err)
		return
	}
	resp.Body.Close()
}

// Identify blinks a node's LED for a fixed duration so a technician can find
// it on the shelf. Best effort, same as SignalVisual.
func (g *Gateway) Identify(addr, color string) {
	if addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.IdentifyTimeout)
	defer cancel()

	resp, err := g.postJSON(ctx, addr, "/led", map[string]interface{}{
		"color":     color,
		"animation": AnimBlink,
		"duration":  g.cfg.IdentifyDuration.Milliseconds(),
	})
	if err != nil {
		g.logger.Warn("Identify signal dropped", "addr", addr, "error", err)
		return
	}
	resp.Body.Close()
}

// ReadTag asks a node to read the tag in front of it. When the node is
// unreachable or slow, a synthetic payload is returned so the pick flow can
// continue; the Synthetic flag tells the caller the data is fabricated.
func (g *Gateway) ReadTag(addr, kind string) TagData {
	if addr == "" {
		return g.syntheticTag(kind)
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ReadTimeout)
	defer cancel()

	url := nodeURL(addr, "/read-tag?type="+kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return g.syntheticTag(kind)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("Tag read failed, substituting synthetic payload", "addr", addr, "kind", kind, "error", err)
		return g.syntheticTag(kind)
	}
	defer resp.Body.Close()

	var data TagData
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&data) != nil {
		g.logger.Warn("Tag read returned bad response, substituting synthetic payload", "addr", addr, "status", resp.StatusCode)
		return g.syntheticTag(kind)
	}
	data.Kind = kind
	return data
}

// WriteTag asks a node to write payload onto the tag in front of it. Unlike
// reads there is no safe fallback: the result says plainly whether the write
// landed, and callers must not pretend otherwise.
func (g *Gateway) WriteTag(addr, payload, kind string) TagWriteResult {
	result := TagWriteResult{Kind: kind}
	if addr == "" {
		return result
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.WriteTimeout)
	defer cancel()

	resp, err := g.postJSON(ctx, addr, "/write-tag", map[string]string{
		"type": kind,
		"data": payload,
	})
	if err != nil {
		g.logger.Warn("Tag write failed", "addr", addr, "kind", kind, "error", err)
		return result
	}
	defer resp.Body.Close()

	result.Committed = resp.StatusCode == http.StatusOK
	if !result.Committed {
		g.logger.Warn("Tag write rejected by node", "addr", addr, "status", resp.StatusCode)
	}
	return result
}

func (g *Gateway) syntheticTag(kind string) TagData {
	buf := make([]byte, 3)
	rand.Read(buf)
	return TagData{
		Kind:      kind,
		Payload:   fmt.Sprintf("SYNTH-%s-%s", strings.ToUpper(kind), strings.ToUpper(hex.EncodeToString(buf))),
		Synthetic: true,
	}
}
