// Package quota tracks free-tier scan usage and the subscription flag that
// lifts the limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// FreeLimit is the number of captures allowed without a subscription
const FreeLimit = 3

// Setting keys shared with the persistence layer
const (
	ScanCountKey  = "scanCount"
	SubscribedKey = "isSubscribed"
)

// ErrLimitReached is returned by Check when the free scans are used up
var ErrLimitReached = errors.New("free scan limit reached, subscribe to continue scanning")

// Settings is the key-value capability the tracker persists its counters in
type Settings interface {
	// GetSetting returns the stored value and whether it was present
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting stores a value, replacing any existing one
	SetSetting(ctx context.Context, key, value string) error
}

// Status is a snapshot of the persisted counters
type Status struct {
	IsSubscribed       bool `json:"is_subscribed"`
	ScanCount          int  `json:"scan_count"`
	RemainingFreeScans int  `json:"remaining_free_scans"`
}

// CanScan applies the capture gate policy
func (s Status) CanScan() bool {
	return s.IsSubscribed || s.RemainingFreeScans > 0
}

// Tracker reads and updates scan counters stored in Settings
type Tracker struct {
	settings Settings
}

// NewTracker creates a Tracker backed by settings
func NewTracker(settings Settings) *Tracker {
	return &Tracker{settings: settings}
}

func remaining(scanCount int) int {
	return max(0, FreeLimit-scanCount)
}

// GetStatus returns the current subscription flag and remaining free scans
func (t *Tracker) GetStatus(ctx context.Context) (Status, error) {
	subscribed, err := t.subscribed(ctx)
	if err != nil {
		return Status{}, err
	}
	count, err := t.scanCount(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		IsSubscribed:       subscribed,
		ScanCount:          count,
		RemainingFreeScans: remaining(count),
	}, nil
}

// IncrementScanCount records one more capture. Concurrent callers may lose
// increments; a single active session is assumed.
func (t *Tracker) IncrementScanCount(ctx context.Context) error {
	count, err := t.scanCount(ctx)
	if err != nil {
		return err
	}
	if err := t.settings.SetSetting(ctx, ScanCountKey, strconv.Itoa(count+1)); err != nil {
		return fmt.Errorf("saving scan count: %w", err)
	}
	return nil
}

// SetSubscribed persists the subscription flag
func (t *Tracker) SetSubscribed(ctx context.Context, subscribed bool) error {
	if err := t.settings.SetSetting(ctx, SubscribedKey, strconv.FormatBool(subscribed)); err != nil {
		return fmt.Errorf("saving subscription flag: %w", err)
	}
	return nil
}

// Check returns ErrLimitReached when a new capture must be refused
func (t *Tracker) Check(ctx context.Context) error {
	status, err := t.GetStatus(ctx)
	if err != nil {
		return err
	}
	if !status.CanScan() {
		return ErrLimitReached
	}
	return nil
}

func (t *Tracker) subscribed(ctx context.Context) (bool, error) {
	value, found, err := t.settings.GetSetting(ctx, SubscribedKey)
	if err != nil {
		return false, fmt.Errorf("reading subscription flag: %w", err)
	}
	return found && value == "true", nil
}

func (t *Tracker) scanCount(ctx context.Context) (int, error) {
	value, found, err := t.settings.GetSetting(ctx, ScanCountKey)
	if err != nil {
		return 0, fmt.Errorf("reading scan count: %w", err)
	}
	if !found || value == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing scan count %q: %w", value, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}
