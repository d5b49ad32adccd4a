package cmd

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/broker"
)

var orderFlags struct {
	exchange  string
	side      string
	quantity  int64
	priceType string
	product   string
	price     string
	trigger   string
	validity  string
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Show the order book",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			orders, err := a.client.Orders(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Order book", "Order", "Symbol", "Side", "Qty", "Filled", "Price", "Type", "Status", "Message")
			for _, o := range orders {
				t.add(o.OrderID, o.Exchange+":"+o.TradingSymbol, o.Side, o.Quantity, o.FilledQuantity,
					o.Price.StringFixed(2), o.PriceType, o.Status, o.Message)
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

var placeOrderCmd = &cobra.Command{
	Use:   "place SYMBOL",
	Short: "Place an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parseDecimal("price", orderFlags.price)
		if err != nil {
			return err
		}
		trigger, err := parseDecimal("trigger", orderFlags.trigger)
		if err != nil {
			return err
		}
		req := broker.OrderRequest{
			Exchange:      orderFlags.exchange,
			TradingSymbol: args[0],
			Side:          strings.ToUpper(orderFlags.side),
			Quantity:      orderFlags.quantity,
			PriceType:     strings.ToUpper(orderFlags.priceType),
			Product:       strings.ToUpper(orderFlags.product),
			Price:         price,
			TriggerPrice:  trigger,
			Validity:      strings.ToUpper(orderFlags.validity),
		}
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			ack, err := a.client.PlaceOrder(cmd.Context(), sess, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s placed: %s\n", ack.OrderID, ack.Message)
			return nil
		})
	},
}

var showOrderCmd = &cobra.Command{
	Use:   "show ORDER_ID",
	Short: "Show one order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			o, err := a.client.Order(cmd.Context(), sess, args[0])
			if err != nil {
				return err
			}
			t := newTable("Order "+o.OrderID, "Field", "Value")
			t.add("symbol", o.Exchange+":"+o.TradingSymbol)
			t.add("side", o.Side)
			t.add("quantity", fmt.Sprintf("%d (filled %d, pending %d)", o.Quantity, o.FilledQuantity, o.PendingQuantity))
			t.add("price", o.Price.StringFixed(2))
			t.add("average price", o.AveragePrice.StringFixed(2))
			t.add("type", o.PriceType+" / "+o.Product)
			t.add("status", o.Status)
			t.add("message", o.Message)
			t.add("entered", o.EntryTime)
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

var cancelOrderCmd = &cobra.Command{
	Use:   "cancel ORDER_ID",
	Short: "Cancel an open order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			ack, err := a.client.CancelOrder(cmd.Context(), sess, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s: %s\n", args[0], ack.Message)
			return nil
		})
	},
}

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Show the trade book",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			trades, err := a.client.Trades(cmd.Context(), sess)
			if err != nil {
				return err
			}
			t := newTable("Trade book", "Order", "Fill", "Symbol", "Side", "Qty", "Price", "Time")
			for _, tr := range trades {
				t.add(tr.OrderID, tr.TradeID, tr.Exchange+":"+tr.TradingSymbol, tr.Side, tr.Quantity,
					tr.Price.StringFixed(2), tr.Time)
			}
			return render(cmd.OutOrStdout(), t.markdown())
		})
	},
}

func init() {
	rootCmd.AddCommand(ordersCmd, tradesCmd)
	ordersCmd.AddCommand(placeOrderCmd, showOrderCmd, cancelOrderCmd)

	f := placeOrderCmd.Flags()
	f.StringVarP(&orderFlags.exchange, "exchange", "e", "NSE", "Exchange")
	f.StringVarP(&orderFlags.side, "side", "s", "BUY", "BUY or SELL")
	f.Int64VarP(&orderFlags.quantity, "quantity", "q", 1, "Quantity")
	f.StringVar(&orderFlags.priceType, "type", "MARKET", "MARKET, LIMIT, SL-MARKET or SL-LIMIT")
	f.StringVar(&orderFlags.product, "product", "INTRADAY", "INTRADAY, NORMAL or CNC")
	f.StringVar(&orderFlags.price, "price", "0", "Limit price")
	f.StringVar(&orderFlags.trigger, "trigger", "0", "Trigger price for stop orders")
	f.StringVar(&orderFlags.validity, "validity", "", "DAY or IOC")
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, s)
	}
	return d, nil
}
