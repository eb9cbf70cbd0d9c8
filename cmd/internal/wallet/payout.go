package wallet

import "math/big"

// Payouts is the outcome of settling a market.
type Payouts struct {
	// ByStake maps stake id to coins returned to its owner.
	ByStake map[string]int64
	// Dust is the remainder floor division could not assign. It stays unpaid.
	Dust int64
	// Refunded is true when nobody backed the winning option.
	Refunded bool
}

// ComputePayouts splits the pot among stakes on winning, each receiving
// floor(pot * amount / winningTotal). With no winning stakes every stake is
// refunded in full.
func ComputePayouts(stakes []Stake, winning string) Payouts {
	out := Payouts{ByStake: make(map[string]int64, len(stakes))}

	var pot, winTotal int64
	for _, s := range stakes {
		pot += s.Amount
		if s.Option == winning {
			winTotal += s.Amount
		}
	}

	if winTotal == 0 {
		for _, s := range stakes {
			out.ByStake[s.ID] = s.Amount
		}
		out.Refunded = true
		return out
	}

	bigPot := big.NewInt(pot)
	bigWin := big.NewInt(winTotal)
	var paid int64
	for _, s := range stakes {
		if s.Option != winning {
			out.ByStake[s.ID] = 0
			continue
		}
		share := new(big.Int).Mul(bigPot, big.NewInt(s.Amount))
		share.Quo(share, bigWin)
		out.ByStake[s.ID] = share.Int64()
		paid += share.Int64()
	}
	out.Dust = pot - paid
	return out
}
