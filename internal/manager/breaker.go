package manager

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/event"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"
)

// TripBreaker applies breaker policy after the vault reported a pool-floor
// breach. Idempotent: a trip while already active is a silent no-op and
// returns no event.
func (m *Manager) TripBreaker(breach vault.Breach, ts time.Time) (*vault.Step, error) {
	m.mu.Lock()
	if m.breakerActive {
		m.mu.Unlock()
		return nil, nil
	}
	m.breakerActive = true
	haltPay := m.breakerHaltPay
	haltSwaps := m.breakerHaltSwaps
	deductBps := m.breakerDeductBps
	m.mu.Unlock()

	// Pre-trigger AUM feeds the reserve deduction. Read outside m.mu since
	// the locked variant is for callers inside a liquidity operation.
	if deductBps > 0 {
		aum, err := m.ComputeAUM(true)
		if err != nil {
			return nil, fmt.Errorf("breaker aum: %w", err)
		}
		deduction := vmath.BpsPortion(aum, deductBps)
		m.mu.Lock()
		m.reserveDeduction.Set(deduction)
		m.mu.Unlock()
	}

	if haltPay {
		if err := m.vault.SetPayoutsEnabled(m.identity, false); err != nil {
			return nil, fmt.Errorf("halt payouts: %w", err)
		}
	}
	if haltSwaps {
		if err := m.vault.SetSwapsEnabled(m.identity, false); err != nil {
			return nil, fmt.Errorf("halt swaps: %w", err)
		}
	}

	m.logger.Warn().
		Str("asset", breach.Asset).
		Str("pool", breach.Pool.String()).
		Str("threshold", breach.Threshold.String()).
		Bool("halt_payouts", haltPay).
		Bool("halt_swaps", haltSwaps).
		Msg("circuit breaker tripped")

	return &vault.Step{Event: &event.CircuitBreakerTripped{
		Asset:      breach.Asset,
		PoolAmount: new(big.Int).Set(breach.Pool),
		Threshold:  new(big.Int).Set(breach.Threshold),
		Timestamp:  ts,
	}}, nil
}

// ResetBreaker restores payout/swap switches and zeroes the reserve
// deduction. Governance-gated.
func (m *Manager) ResetBreaker(caller string, requestID uuid.UUID, ts time.Time) (*vault.Step, error) {
	if !m.gate.IsGovernance(caller) {
		return nil, vault.ErrUnauthorized
	}

	m.mu.Lock()
	m.breakerActive = false
	m.reserveDeduction.SetInt64(0)
	m.mu.Unlock()

	if err := m.vault.SetPayoutsEnabled(m.identity, true); err != nil {
		return nil, fmt.Errorf("restore payouts: %w", err)
	}
	if err := m.vault.SetSwapsEnabled(m.identity, true); err != nil {
		return nil, fmt.Errorf("restore swaps: %w", err)
	}

	m.logger.Info().Str("caller", caller).Msg("circuit breaker reset")

	return &vault.Step{Event: &event.CircuitBreakerReset{
		RequestID: requestID,
		Caller:    caller,
		Timestamp: ts,
	}}, nil
}

// BreakerActive reports whether a trip is in effect.
func (m *Manager) BreakerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerActive
}
