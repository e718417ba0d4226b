// Package risk computes per-lot fraud risk: a bank of heuristic indicators,
// a weighted scoring engine, and persistence of flags and scores.
package risk

import (
	"github.com/rotisserie/eris"
)

// Indicator codes. The bank is fixed; weights are configurable.
const (
	CodeShortDeadline         = "SHORT_DEADLINE"
	CodeFewBids               = "FEW_BIDS"
	CodeLotSplitting          = "LOT_SPLITTING"
	CodeRecurringWinner       = "RECURRING_WINNER"
	CodeSupplierConcentration = "SUPPLIER_CONCENTRATION"
	CodeAddendumValueIncrease = "ADDENDUM_VALUE_INCREASE"
	CodeWinMinThenAddendum    = "WIN_MIN_THEN_ADDENDUM"
	CodeWeirdExecutionTime    = "WEIRD_EXECUTION_TIME"
	CodeRnuFlag               = "RNU_FLAG"
	CodeDumpingFlag           = "DUMPING_FLAG"
	CodeNewCompanyBigContract = "NEW_COMPANY_BIG_CONTRACT"
	CodePaymentWithoutAct     = "PAYMENT_WITHOUT_ACT"
	CodeHighWinRateFewBids    = "HIGH_WIN_RATE_FEW_BIDS"
	CodeCarouselPattern       = "CAROUSEL_PATTERN"
	CodeLastMinuteChanges     = "LAST_MINUTE_CHANGES"
	CodeCommonRequisites      = "COMMON_REQUISITES"
)

// DefaultWeights sums to 100 so a lot triggering everything scores exactly
// the scale ceiling.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		CodeRnuFlag:               12,
		CodeRecurringWinner:       10,
		CodeCarouselPattern:       9,
		CodeAddendumValueIncrease: 8,
		CodeHighWinRateFewBids:    8,
		CodeCommonRequisites:      8,
		CodeNewCompanyBigContract: 7,
		CodeSupplierConcentration: 7,
		CodeLotSplitting:          6,
		CodePaymentWithoutAct:     6,
		CodeWinMinThenAddendum:    5,
		CodeDumpingFlag:           4,
		CodeShortDeadline:         4,
		CodeFewBids:               3,
		CodeLastMinuteChanges:     2,
		CodeWeirdExecutionTime:    1,
	}
}

// Descriptions are the human-readable reason texts attached to top reasons.
var Descriptions = map[string]string{
	CodeShortDeadline:         "Submission window shorter than 3 days",
	CodeFewBids:               "Two or fewer bids submitted",
	CodeLotSplitting:          "Tender split into many small lots",
	CodeRecurringWinner:       "Supplier wins most of this customer's contracts",
	CodeSupplierConcentration: "Supplier depends on a single customer",
	CodeAddendumValueIncrease: "Addenda raised contract value by more than 20%",
	CodeWinMinThenAddendum:    "Addendum signed within 30 days of the contract",
	CodeWeirdExecutionTime:    "Implausible planned execution time",
	CodeRnuFlag:               "Supplier is on the active debarment register",
	CodeDumpingFlag:           "Lot won with a dumping price",
	CodeNewCompanyBigContract: "Company younger than a year holds a large contract",
	CodePaymentWithoutAct:     "Treasury payments without any completion act",
	CodeHighWinRateFewBids:    "Near-total win rate in low-competition tenders",
	CodeCarouselPattern:       "Suppliers rotate wins for the same customer",
	CodeLastMinuteChanges:     "Tender changed less than 24h before the deadline",
	CodeCommonRequisites:      "Bidders share contact requisites",
}

// AllCodes lists every indicator code.
func AllCodes() []string {
	codes := make([]string, 0, len(Descriptions))
	for code := range Descriptions {
		codes = append(codes, code)
	}
	return codes
}

// Config is the validated scoring configuration.
type Config struct {
	Weights   map[string]float64
	LowMax    float64
	MediumMax float64
	MaxLots   int
}

// NewConfig fills defaults and validates. Unknown weight codes and
// non-positive weights are configuration errors; unspecified codes take
// their default weight.
func NewConfig(weights map[string]float64, lowMax, mediumMax float64, maxLots int) (Config, error) {
	merged := DefaultWeights()
	for code, w := range weights {
		if _, ok := merged[code]; !ok {
			return Config{}, eris.Errorf("risk: unknown indicator code %q in weights", code)
		}
		if w <= 0 {
			return Config{}, eris.Errorf("risk: weight for %s must be positive, got %v", code, w)
		}
		merged[code] = w
	}

	if lowMax <= 0 {
		lowMax = 30
	}
	if mediumMax <= 0 {
		mediumMax = 60
	}
	if mediumMax <= lowMax {
		return Config{}, eris.Errorf("risk: medium_max (%v) must exceed low_max (%v)", mediumMax, lowMax)
	}
	if maxLots <= 0 {
		maxLots = 10000
	}

	return Config{
		Weights:   merged,
		LowMax:    lowMax,
		MediumMax: mediumMax,
		MaxLots:   maxLots,
	}, nil
}

// TotalWeight is the normalization denominator.
func (c Config) TotalWeight() float64 {
	var total float64
	for _, w := range c.Weights {
		total += w
	}
	return total
}
