package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/broker"
)

var gttFlags struct {
	exchange  string
	side      string
	condition string
	trigger   string
	price     string
	quantity  int64
}

var gttCmd = &cobra.Command{
	Use:   "gtt",
	Short: "Show pending trigger orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			orders, err := a.client.GTTOrders(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Trigger orders", "Alert", "Symbol", "Side", "Condition", "Trigger", "Price", "Qty", "Created")
			for _, o := range orders {
				t.add(o.AlertID, o.Exchange+":"+o.TradingSymbol, o.Side, o.Condition,
					o.AlertPrice.StringFixed(2), o.Price.StringFixed(2), o.Quantity, o.CreatedAt)
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

var placeGTTCmd = &cobra.Command{
	Use:   "place SYMBOL",
	Short: "Place a trigger order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger, err := parseDecimal("trigger", gttFlags.trigger)
		if err != nil {
			return err
		}
		price, err := parseDecimal("price", gttFlags.price)
		if err != nil {
			return err
		}
		req := broker.GTTRequest{
			Exchange:      gttFlags.exchange,
			TradingSymbol: args[0],
			Side:          strings.ToUpper(gttFlags.side),
			Condition:     strings.ToUpper(gttFlags.condition),
			AlertPrice:    trigger,
			Price:         price,
			Quantity:      gttFlags.quantity,
		}
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			ack, err := a.client.PlaceGTT(cmd.Context(), sess, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger order %s placed: %s\n", ack.AlertID, ack.Message)
			return nil
		})
	},
}

var cancelGTTCmd = &cobra.Command{
	Use:   "cancel ALERT_ID",
	Short: "Cancel a trigger order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			ack, err := a.client.CancelGTT(cmd.Context(), sess, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trigger order %s: %s\n", args[0], ack.Message)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(gttCmd)
	gttCmd.AddCommand(placeGTTCmd, cancelGTTCmd)

	f := placeGTTCmd.Flags()
	f.StringVarP(&gttFlags.exchange, "exchange", "e", "NSE", "Exchange")
	f.StringVarP(&gttFlags.side, "side", "s", "BUY", "BUY or SELL")
	f.StringVar(&gttFlags.condition, "condition", "LTP_ABOVE", "LTP_ABOVE or LTP_BELOW")
	f.StringVar(&gttFlags.trigger, "trigger", "", "Trigger price")
	f.StringVar(&gttFlags.price, "price", "", "Order price once triggered")
	f.Int64VarP(&gttFlags.quantity, "quantity", "q", 1, "Quantity")
	_ = placeGTTCmd.MarkFlagRequired("trigger")
	_ = placeGTTCmd.MarkFlagRequired("price")
}
