package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateUSD float64
	simulateEUR float64
	simulateUF  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one detection cycle against injected indicator values",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUSD <= 0 || simulateEUR <= 0 || simulateUF <= 0 {
			return errors.New("--usd, --eur, and --uf must all be greater than 0")
		}

		usd := decimal.NewFromFloat(simulateUSD)
		eur := decimal.NewFromFloat(simulateEUR)
		uf := decimal.NewFromFloat(simulateUF)
		return getApp().SimulateAlert(cmd.Context(), usd, eur, uf)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateUSD, "usd", 0, "Injected USD value (base currency)")
	simulateCmd.Flags().Float64Var(&simulateEUR, "eur", 0, "Injected EUR value (base currency)")
	simulateCmd.Flags().Float64Var(&simulateUF, "uf", 0, "Injected UF value (base currency)")
}
