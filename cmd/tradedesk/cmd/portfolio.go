package cmd

import (
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show cash and margin limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			l, err := a.client.Limits(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Limits", "Item", "Amount")
			t.add("cash", inr(l.Cash))
			t.add("margin used", inr(l.MarginUsed))
			t.add("pay in", inr(l.PayIn))
			t.add("pay out", inr(l.PayOut))
			t.add("collateral", inr(l.Collateral))
			t.add("net available", inr(l.NetAvailable))
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

var holdingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Show demat holdings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			holdings, err := a.client.Holdings(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Holdings", "Symbol", "ISIN", "Qty", "T1", "Avg price", "LTP")
			for _, h := range holdings {
				t.add(h.Exchange+":"+h.TradingSymbol, h.ISIN, h.Quantity, h.T1Quantity,
					inr(h.AveragePrice), inr(h.LastPrice))
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show open positions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			positions, err := a.client.Positions(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Positions", "Symbol", "Product", "Net qty", "Avg price", "LTP", "Realized", "Unrealized")
			for _, p := range positions {
				t.add(p.Exchange+":"+p.TradingSymbol, p.Product, p.NetQuantity, inr(p.NetAvgPrice),
					inr(p.LastPrice), inr(p.RealizedPnL), inr(p.UnrealizedPnL))
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

func init() {
	rootCmd.AddCommand(limitsCmd, holdingsCmd, positionsCmd)
}
