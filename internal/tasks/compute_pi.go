package tasks

import (
	"context"
	"fmt"
	"math/big"

	"taskhub/internal/apperrors"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/reporter"
)

// ComputePiKernel computes Digits decimal digits of pi via the
// Chudnovsky-free Machin-like arctangent series (adequate precision for
// the modest digit counts this demo task accepts). It reports RUNNING at
// three fixed checkpoints (0.33, 0.67, 1.00), all before the series is
// evaluated, then the result and a COMPLETED status.
type ComputePiKernel struct{}

var _ Kernel = ComputePiKernel{}

// Execute computes pi to payload.ComputePi.Digits digits.
func (ComputePiKernel) Execute(ctx context.Context, rep *reporter.Reporter, payload domaintask.Payload) error {
	if payload.ComputePi == nil {
		return apperrors.InvalidEvent("compute_pi payload missing")
	}
	digits := payload.ComputePi.Digits

	checkpoints := []float64{0.33, 0.67, 1.00}
	for i, pct := range checkpoints {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p := pct
		state := domaintask.StatusRunning
		if err := rep.ReportStatus(ctx, domaintask.TaskStatus{
			State:    state,
			Progress: domaintask.Progress{Percentage: &p, Phase: fmt.Sprintf("series-term-%d", i+1)},
		}); err != nil {
			return apperrors.Transient("report status", err)
		}
	}

	value := machinPi(digits)
	if err := rep.ReportResult(ctx, map[string]any{"data": value}); err != nil {
		return apperrors.Transient("report result", err)
	}

	completed := 1.0
	if err := rep.ReportStatus(ctx, domaintask.TaskStatus{
		State:    domaintask.StatusCompleted,
		Progress: domaintask.Progress{Percentage: &completed},
	}); err != nil {
		return apperrors.Transient("report terminal status", err)
	}
	return nil
}

// machinPi computes pi to digits decimal digits using Machin's formula
// pi/4 = 4*atan(1/5) - atan(1/239), evaluated with big.Float at a
// precision comfortably exceeding the requested digit count.
func machinPi(digits int) string {
	if digits < 1 {
		digits = 1
	}
	prec := uint(digits*4 + 64)
	four := big.NewFloat(4).SetPrec(prec)
	pi := new(big.Float).SetPrec(prec)
	pi.Mul(four, arctanInverse(5, prec))
	pi.Mul(four, pi)
	sub := new(big.Float).SetPrec(prec).Mul(four, arctanInverse(239, prec))
	pi.Sub(pi, sub)
	return pi.Text('f', digits)
}

// arctanInverse computes atan(1/x) via its Taylor series, to prec bits.
// The series ratio is 1/x², so prec/2 terms comfortably exceed prec bits
// of accuracy for the x values Machin's formula uses (5 and 239).
func arctanInverse(x int64, prec uint) *big.Float {
	sum := new(big.Float).SetPrec(prec)
	term := new(big.Float).SetPrec(prec).Quo(big.NewFloat(1).SetPrec(prec), big.NewFloat(float64(x)).SetPrec(prec))
	xSquared := new(big.Float).SetPrec(prec).Mul(term, term)
	sign := 1
	denom := int64(1)
	current := new(big.Float).SetPrec(prec).Copy(term)

	terms := int(prec/2) + 4
	for i := 0; i < terms; i++ {
		contribution := new(big.Float).SetPrec(prec).Quo(current, big.NewFloat(float64(denom)).SetPrec(prec))
		if sign < 0 {
			sum.Sub(sum, contribution)
		} else {
			sum.Add(sum, contribution)
		}
		current.Mul(current, xSquared)
		denom += 2
		sign = -sign
	}
	return sum
}
