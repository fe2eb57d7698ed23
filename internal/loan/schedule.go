/**
 * @description
 * Pure repayment-schedule math: schedule generation for both interest
 * models, oldest-first repayment allocation, and once-only late-fee
 * assessment. Nothing in this package touches persistence; the loan service
 * in internal/app calls these functions and writes the results atomically.
 *
 * @notes
 * - The configured rate is an annual percentage in both models. Simple
 *   interest charges principal * rate/100 * months/12; reducing balance uses
 *   rate/100/12 as the monthly rate in the standard annuity formula.
 * - All amounts are int64 minor units. Per-installment values are rounded to
 *   the minor unit and the final installment absorbs the rounding residue,
 *   so the schedule sums reproduce the loan totals exactly.
 */

package loan

import (
	"fmt"
	"math"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
)

// CalculateSchedule builds the installment plan for a loan starting at
// start. Installments fall due monthly, the first one month after start.
// The returned total is the exact sum of installment totals.
func CalculateSchedule(principal int64, annualRatePercent float64, interestType domain.InterestType, termMonths int, processingFee int64, start time.Time) ([]domain.Installment, int64, error) {
	if principal <= 0 {
		return nil, 0, fmt.Errorf("principal must be positive, got %d", principal)
	}
	if termMonths <= 0 {
		return nil, 0, fmt.Errorf("term must be at least one month, got %d", termMonths)
	}
	if annualRatePercent < 0 {
		return nil, 0, fmt.Errorf("interest rate cannot be negative, got %f", annualRatePercent)
	}
	if processingFee < 0 {
		return nil, 0, fmt.Errorf("processing fee cannot be negative, got %d", processingFee)
	}

	var schedule []domain.Installment
	switch interestType {
	case domain.InterestSimple:
		schedule = simpleSchedule(principal, annualRatePercent, termMonths, processingFee, start)
	case domain.InterestReducingBalance:
		schedule = reducingBalanceSchedule(principal, annualRatePercent, termMonths, start)
	default:
		return nil, 0, fmt.Errorf("unknown interest type %q", interestType)
	}
	return schedule, sumTotals(schedule), nil
}

func sumTotals(schedule []domain.Installment) int64 {
	var sum int64
	for _, inst := range schedule {
		sum += inst.Total
	}
	return sum
}

// simpleSchedule spreads principal, total interest, and the processing fee
// evenly across the term. The final installment absorbs rounding.
func simpleSchedule(principal int64, annualRatePercent float64, termMonths int, processingFee int64, start time.Time) []domain.Installment {
	totalInterest := int64(math.Round(float64(principal) * annualRatePercent / 100 * float64(termMonths) / 12))
	totalRepayable := principal + totalInterest + processingFee

	n := int64(termMonths)
	perInstallment := totalRepayable / n
	perPrincipal := principal / n

	schedule := make([]domain.Installment, termMonths)
	var runningTotal, runningPrincipal int64
	for i := 0; i < termMonths; i++ {
		total := perInstallment
		principalPortion := perPrincipal
		if i == termMonths-1 {
			total = totalRepayable - runningTotal
			principalPortion = principal - runningPrincipal
		}
		schedule[i] = domain.Installment{
			Number:           i + 1,
			DueDate:          start.AddDate(0, i+1, 0),
			Total:            total,
			PrincipalPortion: principalPortion,
			InterestPortion:  total - principalPortion,
		}
		runningTotal += total
		runningPrincipal += principalPortion
	}
	return schedule
}

// reducingBalanceSchedule amortizes the principal with the level-payment
// annuity formula. Each installment's interest is the monthly rate applied
// to the remaining principal; the final installment clears the remaining
// principal exactly. A zero rate degenerates to equal principal repayments.
func reducingBalanceSchedule(principal int64, annualRatePercent float64, termMonths int, start time.Time) []domain.Installment {
	monthlyRate := annualRatePercent / 100 / 12
	n := termMonths

	schedule := make([]domain.Installment, n)

	if monthlyRate == 0 {
		perPrincipal := principal / int64(n)
		var running int64
		for i := 0; i < n; i++ {
			p := perPrincipal
			if i == n-1 {
				p = principal - running
			}
			schedule[i] = domain.Installment{
				Number:           i + 1,
				DueDate:          start.AddDate(0, i+1, 0),
				Total:            p,
				PrincipalPortion: p,
			}
			running += p
		}
		return schedule
	}

	pow := math.Pow(1+monthlyRate, float64(n))
	payment := float64(principal) * monthlyRate * pow / (pow - 1)

	remaining := principal
	for i := 0; i < n; i++ {
		interest := int64(math.Round(float64(remaining) * monthlyRate))
		var principalPortion int64
		if i == n-1 {
			principalPortion = remaining
		} else {
			principalPortion = int64(math.Round(payment)) - interest
			if principalPortion > remaining {
				principalPortion = remaining
			}
		}
		schedule[i] = domain.Installment{
			Number:           i + 1,
			DueDate:          start.AddDate(0, i+1, 0),
			Total:            principalPortion + interest,
			PrincipalPortion: principalPortion,
			InterestPortion:  interest,
		}
		remaining -= principalPortion
	}
	return schedule
}

// AllocationResult reports what a repayment did to the schedule.
type AllocationResult struct {
	Applied     int64 // amount absorbed by installments
	Remainder   int64 // overpayment left after every installment settled
	FullyRepaid bool
}

// AllocateRepayment applies amount to the schedule oldest-first: each unpaid
// installment is filled up to its total before any money reaches the next
// one. The schedule is modified in place.
func AllocateRepayment(schedule []domain.Installment, amount int64) (AllocationResult, error) {
	if amount <= 0 {
		return AllocationResult{}, fmt.Errorf("repayment amount must be positive, got %d", amount)
	}

	remaining := amount
	for i := range schedule {
		if schedule[i].Paid {
			continue
		}
		if remaining == 0 {
			break
		}
		due := schedule[i].Total - schedule[i].PaidAmount
		pay := due
		if remaining < due {
			pay = remaining
		}
		schedule[i].PaidAmount += pay
		remaining -= pay
		if schedule[i].PaidAmount == schedule[i].Total {
			schedule[i].Paid = true
		}
	}

	fullyRepaid := true
	for i := range schedule {
		if !schedule[i].Paid {
			fullyRepaid = false
			break
		}
	}

	return AllocationResult{
		Applied:     amount - remaining,
		Remainder:   remaining,
		FullyRepaid: fullyRepaid,
	}, nil
}

// AssessLateFees charges feePercent of the unpaid remainder on every overdue
// installment that has not been assessed before (LateFee still zero). The
// schedule is modified in place; the returned total is the sum of new fees,
// zero when nothing was assessable.
func AssessLateFees(schedule []domain.Installment, asOf time.Time, feePercent float64) (int64, error) {
	if feePercent < 0 {
		return 0, fmt.Errorf("late fee percent cannot be negative, got %f", feePercent)
	}

	var total int64
	for i := range schedule {
		inst := &schedule[i]
		if inst.Paid || inst.LateFee != 0 {
			continue
		}
		if !inst.DueDate.Before(asOf) {
			continue
		}
		fee := int64(math.Round(float64(inst.Total-inst.PaidAmount) * feePercent / 100))
		if fee == 0 {
			continue
		}
		inst.LateFee = fee
		total += fee
	}
	return total, nil
}

// NextPaymentDue returns the due date of the oldest unpaid installment, or
// nil when the schedule is settled.
func NextPaymentDue(schedule []domain.Installment) *time.Time {
	for i := range schedule {
		if !schedule[i].Paid {
			due := schedule[i].DueDate
			return &due
		}
	}
	return nil
}
