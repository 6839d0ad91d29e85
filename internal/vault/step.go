package vault

import (
	"math/big"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
)

// Step pairs a committed domain event with the ledger batch that mutated the
// balance sheet. The processor stamps the global sequence, hashes state, and
// emits the pair downstream.
type Step struct {
	Event event.Event
	Batch *ledger.Batch
}

// Breach reports a circuit-breaker floor crossed by a pool decrease. The
// vault only detects breaches; the share accountant applies breaker policy.
type Breach struct {
	Asset     string
	Pool      *big.Int
	Threshold *big.Int
}
