package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateCollateral   float64
	simulateDebt         float64
	simulateThreshold    float64
	simulateHealthFactor float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a synthetic account through the trigger pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCollateral <= 0 || simulateDebt <= 0 {
			return errors.New("--collateral and --debt must be greater than 0")
		}
		if simulateThreshold <= 0 || simulateThreshold > 1 {
			return errors.New("--threshold must be in (0, 1]")
		}
		if simulateHealthFactor <= 0 {
			return errors.New("--health-factor must be greater than 0")
		}

		return getApp().Simulate(
			cmd.Context(),
			decimal.NewFromFloat(simulateCollateral),
			decimal.NewFromFloat(simulateDebt),
			decimal.NewFromFloat(simulateThreshold),
			decimal.NewFromFloat(simulateHealthFactor),
		)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateCollateral, "collateral", 0, "Collateral value in USD")
	simulateCmd.Flags().Float64Var(&simulateDebt, "debt", 0, "Debt value in USD")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0.8, "Liquidation threshold as a fraction")
	simulateCmd.Flags().Float64Var(&simulateHealthFactor, "health-factor", 0, "Authoritative health factor the chain will report")
}
