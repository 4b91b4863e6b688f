package discrepancy

import (
	"math"

	"github.com/tenon-core/tenon/internal/idkey"
	"github.com/tenon-core/tenon/internal/types"
)

// AmountMismatchRule builds the production AMOUNT_MISMATCH diagnostic
// rule: compares a state evaluation's expected and observed amounts,
// emitting nothing inside tolerance, MEDIUM beyond it, and HIGH once the
// absolute delta exceeds 10. Both amounts being zero means the evaluation
// carries no reconciliation comparison at all, not a matched zero amount,
// so the rule stays silent rather than false-flagging it.
func AmountMismatchRule(tolerance float64, hash idkey.HashFunc) Rule {
	pack := RulePack{
		RuleID:          "amount-mismatch",
		RuleVersion:     "1",
		DiscrepancyType: string(types.DiscrepancyAmountMismatch),
	}
	return Rule{
		Pack: pack,
		Evaluator: func(in Input) []types.Discrepancy {
			eval := in.Eval
			if eval.ExpectedAmount == 0 && eval.ObservedAmount == 0 {
				return nil
			}
			delta := math.Abs(eval.ExpectedAmount - eval.ObservedAmount)
			if delta <= tolerance {
				return nil
			}

			severity := types.SeverityMedium
			if delta > 10 {
				severity = types.SeverityHigh
			}

			discrepancyID := idkey.BuildKey("1", []idkey.Field{
				{Name: "flow_id", Value: in.Flow.FlowID},
				{Name: "evaluation_id", Value: eval.EvaluationID},
				{Name: "discrepancy_type", Value: pack.DiscrepancyType},
			}, hash)

			return []types.Discrepancy{{
				DiscrepancyID:    discrepancyID,
				FlowID:           in.Flow.FlowID,
				DiscrepancyType:  types.DiscrepancyAmountMismatch,
				SeverityHint:     severity,
				SupportingStates: []string{eval.EvaluationID},
				SupportingEvents: in.Flow.EventIDs,
				RuleID:           pack.RuleID,
				RuleVersion:      pack.RuleVersion,
				Explanation:      "observed amount diverges from expected amount beyond tolerance",
			}}
		},
	}
}
