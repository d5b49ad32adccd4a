package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	evbus "github.com/asaskevich/EventBus"
	"github.com/spf13/cobra"

	"github.com/jmcleod/tradedesk/stream"
)

var watchExchange string

var watchCmd = &cobra.Command{
	Use:   "watch SYMBOL...",
	Short: "Stream live ticks and order updates for trading symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(func(a *app) error {
			sess, err := a.session(ctx)
			if err != nil {
				return err
			}
			sc, err := newStreamClient(a, watchExchange, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bus := sc.Bus()
			if err := bus.Subscribe(stream.TopicTick, func(ev stream.Event) { printTick(out, ev) }); err != nil {
				return err
			}
			if err := bus.Subscribe(stream.TopicOrder, func(ev stream.Event) { printOrderUpdate(out, ev) }); err != nil {
				return err
			}
			logEvents(bus, logger)
			return sc.Run(ctx, sess)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchExchange, "exchange", "e", "NSE", "Exchange of the symbols")
}

func newStreamClient(a *app, exchange string, symbols []string) (*stream.Client, error) {
	subs := stream.NewSubscriptions(a.client.Symbols())
	if err := subs.Set(exchange, symbols); err != nil {
		return nil, err
	}
	return stream.NewClient(stream.Config{
		URL:           cfg.Broker.StreamURL,
		Subscriptions: subs,
		Heartbeat:     cfg.Stream.Heartbeat,
		Logger:        logger,
	}), nil
}

// logEvents mirrors acknowledgements and feed errors into the log.
func logEvents(bus evbus.Bus, log *slog.Logger) {
	_ = bus.Subscribe(stream.TopicAck, func(ev stream.Event) {
		log.Debug("stream ack", "kind", ev.Kind, "frame", ev.Frame)
	})
	_ = bus.Subscribe(stream.TopicError, func(ev stream.Event) {
		log.Warn("stream error", "message", field(ev.Frame, "emsg"))
	})
}

func printTick(w io.Writer, ev stream.Event) {
	fmt.Fprintf(w, "%-5s %-8s %-20s ltp=%-10s chg=%s%% vol=%s\n",
		field(ev.Frame, "e"), field(ev.Frame, "tk"), field(ev.Frame, "ts"),
		field(ev.Frame, "lp"), field(ev.Frame, "pc"), field(ev.Frame, "v"))
}

func printOrderUpdate(w io.Writer, ev stream.Event) {
	fmt.Fprintf(w, "order %s %s %s qty=%s status=%s %s\n",
		field(ev.Frame, "norenordno"), field(ev.Frame, "trantype"), field(ev.Frame, "tsym"),
		field(ev.Frame, "qty"), field(ev.Frame, "status"), strings.TrimSpace(field(ev.Frame, "rejreason")))
}

func field(frame map[string]any, key string) string {
	v, ok := frame[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}
