package manager

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// Snapshot is the serializable manager state. Amounts are decimal strings,
// timestamps RFC 3339.
type Snapshot struct {
	AumAddition      string            `json:"aum_addition"`
	AumDeduction     string            `json:"aum_deduction"`
	ReserveDeduction string            `json:"reserve_deduction"`
	BreakerActive    bool              `json:"breaker_active"`
	BreakerHaltPay   bool              `json:"breaker_halt_payouts"`
	BreakerHaltSwaps bool              `json:"breaker_halt_swaps"`
	BreakerDeductBps int64             `json:"breaker_deduct_bps"`
	CooldownSeconds  int64             `json:"cooldown_seconds"`
	PrivateMode      bool              `json:"private_mode"`
	HandlersEnabled  bool              `json:"handlers_enabled"`
	Handlers         []string          `json:"handlers"`
	LastAdded        map[string]string `json:"last_added"`
}

func (m *Manager) SnapshotState() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := make([]string, 0, len(m.handlers))
	for h := range m.handlers {
		handlers = append(handlers, h)
	}
	sort.Strings(handlers)

	lastAdded := make(map[string]string, len(m.lastAdded))
	for holder, ts := range m.lastAdded {
		lastAdded[holder] = ts.UTC().Format(time.RFC3339Nano)
	}

	return &Snapshot{
		AumAddition:      m.aumAddition.Text(10),
		AumDeduction:     m.aumDeduction.Text(10),
		ReserveDeduction: m.reserveDeduction.Text(10),
		BreakerActive:    m.breakerActive,
		BreakerHaltPay:   m.breakerHaltPay,
		BreakerHaltSwaps: m.breakerHaltSwaps,
		BreakerDeductBps: m.breakerDeductBps,
		CooldownSeconds:  int64(m.cooldown / time.Second),
		PrivateMode:      m.privateMode,
		HandlersEnabled:  m.handlersEnabled,
		Handlers:         handlers,
		LastAdded:        lastAdded,
	}
}

func (m *Manager) RestoreState(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, pair := range map[string]struct {
		dst *big.Int
		src string
	}{
		"aum_addition":      {m.aumAddition, snap.AumAddition},
		"aum_deduction":     {m.aumDeduction, snap.AumDeduction},
		"reserve_deduction": {m.reserveDeduction, snap.ReserveDeduction},
	} {
		if _, ok := pair.dst.SetString(pair.src, 10); !ok {
			return fmt.Errorf("snapshot: bad %s %q", name, pair.src)
		}
	}

	m.breakerActive = snap.BreakerActive
	m.breakerHaltPay = snap.BreakerHaltPay
	m.breakerHaltSwaps = snap.BreakerHaltSwaps
	m.breakerDeductBps = snap.BreakerDeductBps
	m.cooldown = time.Duration(snap.CooldownSeconds) * time.Second
	m.privateMode = snap.PrivateMode
	m.handlersEnabled = snap.HandlersEnabled

	m.handlers = make(map[string]bool, len(snap.Handlers))
	for _, h := range snap.Handlers {
		m.handlers[h] = true
	}
	m.lastAdded = make(map[string]time.Time, len(snap.LastAdded))
	for holder, raw := range snap.LastAdded {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("snapshot: bad last_added for %s: %w", holder, err)
		}
		m.lastAdded[holder] = ts
	}
	return nil
}

// StateDigest folds the manager state into the processor's hash chain.
func (m *Manager) StateDigest() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := sha256.New()
	fmt.Fprintf(h, "aum|%s|%s|%s\n",
		m.aumAddition.Text(10), m.aumDeduction.Text(10), m.reserveDeduction.Text(10))
	fmt.Fprintf(h, "breaker|%t|%t|%t|%d\n",
		m.breakerActive, m.breakerHaltPay, m.breakerHaltSwaps, m.breakerDeductBps)
	fmt.Fprintf(h, "mode|%t|%t|%d\n", m.privateMode, m.handlersEnabled, int64(m.cooldown/time.Second))

	holders := make([]string, 0, len(m.lastAdded))
	for holder := range m.lastAdded {
		holders = append(holders, holder)
	}
	sort.Strings(holders)
	for _, holder := range holders {
		fmt.Fprintf(h, "cooldown|%s|%d\n", holder, m.lastAdded[holder].UnixMicro())
	}

	handlers := make([]string, 0, len(m.handlers))
	for hd := range m.handlers {
		handlers = append(handlers, hd)
	}
	sort.Strings(handlers)
	for _, hd := range handlers {
		fmt.Fprintf(h, "handler|%s\n", hd)
	}
	return h.Sum(nil)
}
