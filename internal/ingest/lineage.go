package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fintrackhq/fintrack/internal/statement"
)

const (
	ccPaymentMaxDays    = 2
	ccPaymentConfidence = 0.95
	refundMaxDays       = 30
	refundMinSimilarity = 0.7
	refundConfidence    = 0.8
)

// amountTolerance absorbs rounding differences between statements that
// print the same movement.
var amountTolerance = decimal.NewFromFloat(0.01)

// detectLineage matches each newly ingested transaction against transactions
// from other statements and emits heuristic relationship edges.
//
// Two patterns are recognized:
//
//   - cc_payment: a new debit whose amount matches an existing credit within
//     the tolerance, at most two days apart. The edge points from the
//     existing credit to the new debit.
//   - refund: a new credit reversing an existing debit within thirty days,
//     with token similarity between the descriptions strictly above the
//     threshold. The edge points from the existing debit to the new credit.
func detectLineage(fresh, existing []*statement.Transaction, now time.Time) []*statement.Lineage {
	var edges []*statement.Lineage

	for _, t := range fresh {
		for _, e := range existing {
			if e.StatementID == t.StatementID {
				continue
			}

			if t.Debit != nil && e.Credit != nil &&
				amountsMatch(*t.Debit, *e.Credit) &&
				daysApart(t.TransactionDate, e.TransactionDate) <= ccPaymentMaxDays {
				edges = append(edges, &statement.Lineage{
					ID:                  uuid.New(),
					TransactionID:       e.TransactionID,
					LinkedTransactionID: t.TransactionID,
					RelationshipType:    statement.RelationshipCCPayment,
					Confidence:          ccPaymentConfidence,
					MatchReason:         fmt.Sprintf("CC bill payment: %s credit matches %s debit", e.SourceName, t.SourceName),
					CreatedTS:           now,
				})
			}

			if t.Credit != nil && e.Debit != nil &&
				amountsMatch(*t.Credit, *e.Debit) &&
				daysApart(t.TransactionDate, e.TransactionDate) <= refundMaxDays &&
				descriptionSimilarity(t.Description, e.Description) > refundMinSimilarity {
				edges = append(edges, &statement.Lineage{
					ID:                  uuid.New(),
					TransactionID:       e.TransactionID,
					LinkedTransactionID: t.TransactionID,
					RelationshipType:    statement.RelationshipRefund,
					Confidence:          refundConfidence,
					MatchReason:         "Possible refund: debit reversed as credit",
					CreatedTS:           now,
				})
			}
		}
	}

	return edges
}

func amountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(amountTolerance)
}

func daysApart(a, b time.Time) int {
	days := int(a.Sub(b).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// descriptionSimilarity is the Jaccard index over lowercase whitespace
// tokens. Empty descriptions never match anything.
func descriptionSimilarity(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	overlap := 0
	union := len(tokensB)
	for tok := range tokensA {
		if tokensB[tok] {
			overlap++
		} else {
			union++
		}
	}
	return float64(overlap) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}
