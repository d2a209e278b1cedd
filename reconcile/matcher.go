package reconcile

import (
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

type MatchClass int

const (
	MatchNone MatchClass = iota
	MatchExact
	MatchNear
	MatchWrongReference
)

func (c MatchClass) String() string {
	switch c {
	case MatchExact:
		return "exact_match"
	case MatchNear:
		return "near_match"
	case MatchWrongReference:
		return "wrong_reference_near_match"
	default:
		return "no_match"
	}
}

// MatchResult is the matcher's verdict for one order against its scope's
// contract set.
type MatchResult struct {
	Class    MatchClass
	Contract *models.CachedContract
	Delta    *models.DeltaReport

	// OrphanContracts are additional exact matches beyond the winning one.
	// They are logged as diagnostics, never auto-acted on.
	OrphanContracts []int64

	// AmbiguousWith lists other pending orders whose reference token appears
	// on the same contract. Ambiguity forces NO_MATCH for all of them.
	AmbiguousWith []uint
}

// ReferenceClaims maps contract id -> ids of pending orders whose reference
// token appears in that contract's title. Built once per scope per pass so a
// contract claimed by more than one order can be ruled ambiguous instead of
// guessed at.
func ReferenceClaims(orders []models.ExchangeOrder, contracts []models.CachedContract) map[int64][]uint {
	claims := make(map[int64][]uint)
	for ci := range contracts {
		for oi := range orders {
			if titleHasToken(contracts[ci].Title, orders[oi].Reference()) {
				claims[contracts[ci].ContractId] = append(claims[contracts[ci].ContractId], orders[oi].ID)
			}
		}
	}
	return claims
}

// MatchOrder classifies the best-matching contract for one order.
// Contracts must already be scope-filtered; the matcher never sees another
// scope's contracts even when reference strings collide.
func MatchOrder(order *models.ExchangeOrder, contracts []models.CachedContract, cfg *models.ScopeConfig, claims map[int64][]uint) MatchResult {
	var (
		exacts    []*models.CachedContract
		nears     []*models.CachedContract
		wrongRefs []*models.CachedContract
		ambiguous []uint
	)
	nearDeltas := make(map[int64]*models.DeltaReport)

	ref := order.Reference()

	for i := range contracts {
		contract := &contracts[i]
		if !structureMatches(contract, order, cfg) {
			continue
		}
		if contract.Unmatched() {
			// A dead contract can't satisfy a fresh match; the state machine
			// handles the already-recorded contract dying separately.
			continue
		}

		hasRef := titleHasToken(contract.Title, ref)

		if hasRef {
			if others := otherClaimants(claims[contract.ContractId], order.ID); len(others) > 0 {
				// Duplicate/ambiguous reference: NO_MATCH for everyone involved,
				// surfaced as a diagnostic instead of guessing a winner.
				ambiguous = appendUnique(ambiguous, others...)
				continue
			}
		}

		missing, surplus, itemsEqual := compareItems(order.Items, contract.IncludedQuantities())
		priceEqual := contract.PriceInt() == order.Total

		switch {
		case hasRef && itemsEqual && priceEqual:
			exacts = append(exacts, contract)
		case hasRef:
			delta := &models.DeltaReport{
				ContractId: contract.ContractId,
				Missing:    missing,
				Surplus:    surplus,
				PriceDiff:  contract.PriceInt() - order.Total,
			}
			nears = append(nears, contract)
			nearDeltas[contract.ContractId] = delta
		case itemsEqual && priceEqual:
			wrongRefs = append(wrongRefs, contract)
		}
	}

	if len(exacts) > 0 {
		winner, rest := newestFirst(exacts)
		orphans := make([]int64, 0, len(rest))
		for _, c := range rest {
			orphans = append(orphans, c.ContractId)
		}
		return MatchResult{Class: MatchExact, Contract: winner, OrphanContracts: orphans}
	}
	if len(nears) > 0 {
		winner, _ := newestFirst(nears)
		return MatchResult{Class: MatchNear, Contract: winner, Delta: nearDeltas[winner.ContractId]}
	}
	if len(wrongRefs) > 0 {
		winner, _ := newestFirst(wrongRefs)
		return MatchResult{
			Class:    MatchWrongReference,
			Contract: winner,
			Delta: &models.DeltaReport{
				ContractId:        winner.ContractId,
				ReferenceMismatch: true,
			},
		}
	}
	return MatchResult{Class: MatchNone, AmbiguousWith: ambiguous}
}

func structureMatches(contract *models.CachedContract, order *models.ExchangeOrder, cfg *models.ScopeConfig) bool {
	if contract.Kind != models.ContractKindItemExchange {
		return false
	}
	if contract.LocationId != cfg.SettlementLocationId {
		return false
	}
	switch order.Direction {
	case models.OrderDirectionSell:
		// Member posts the contract to the counterparty.
		return contract.IssuerId == order.OwnerId && contract.AcceptorId == cfg.CounterpartyId
	case models.OrderDirectionBuy:
		// Counterparty posts the contract to the member.
		return contract.IssuerId == cfg.CounterpartyId && contract.AcceptorId == order.OwnerId
	}
	return false
}

// titleHasToken reports whether title carries the reference token as a whole
// token. Boundary-aware so "MX-1" never matches inside "MX-12".
func titleHasToken(title, token string) bool {
	if token == "" {
		return false
	}
	upperTitle := strings.ToUpper(title)
	upperToken := strings.ToUpper(token)
	start := 0
	for {
		idx := strings.Index(upperTitle[start:], upperToken)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(upperToken)
		if end >= len(upperTitle) || !isTokenChar(upperTitle[end]) {
			if idx == 0 || !isTokenChar(upperTitle[idx-1]) {
				return true
			}
		}
		start = idx + 1
	}
}

func isTokenChar(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || b == '-'
}

func compareItems(orderItems []models.OrderItem, contractItems map[int64]int64) (missing, surplus []models.ItemDelta, equal bool) {
	want := make(map[int64]int64, len(orderItems))
	for _, item := range orderItems {
		want[item.ItemType] += item.Quantity
	}

	for itemType, wanted := range want {
		got := contractItems[itemType]
		if got < wanted {
			missing = append(missing, models.ItemDelta{ItemType: itemType, Quantity: wanted - got})
		}
	}
	for itemType, got := range contractItems {
		wanted := want[itemType]
		if got > wanted {
			surplus = append(surplus, models.ItemDelta{ItemType: itemType, Quantity: got - wanted})
		}
	}

	sortDeltas(missing)
	sortDeltas(surplus)
	return missing, surplus, len(missing) == 0 && len(surplus) == 0
}

func sortDeltas(deltas []models.ItemDelta) {
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ItemType < deltas[j].ItemType })
}

func newestFirst(contracts []*models.CachedContract) (*models.CachedContract, []*models.CachedContract) {
	sorted := make([]*models.CachedContract, len(contracts))
	copy(sorted, contracts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DateIssued.After(sorted[j].DateIssued) })
	return sorted[0], sorted[1:]
}

func otherClaimants(claimants []uint, self uint) []uint {
	var others []uint
	for _, id := range claimants {
		if id != self {
			others = append(others, id)
		}
	}
	return others
}

func appendUnique(into []uint, values ...uint) []uint {
	for _, v := range values {
		seen := false
		for _, existing := range into {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			into = append(into, v)
		}
	}
	return into
}
