// Orderctl runs out-of-band administrative corrections against the ledger
// file directly. Stop the server (or accept a lost race) before re-dating
// entries in bulk.
package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/orderledger/internal/adapter/storage"
	"github.com/roach88/orderledger/internal/core/service"
	"github.com/roach88/orderledger/internal/event"
	"github.com/roach88/orderledger/internal/logging"
)

var (
	ledgerPath string
	actor      string
)

func main() {
	root := &cobra.Command{
		Use:           "orderctl",
		Short:         "Administrative tools for the order ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&ledgerPath, "ledger", "data/ledger.json", "path to the ledger file")
	root.PersistentFlags().StringVar(&actor, "actor", "admin", "actor recorded in the audit trail")

	root.AddCommand(shiftDayCmd(), clearGroupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newOrderService wires a service over the ledger file with a throwaway
// distributor; these one-shot tools have no observers.
func newOrderService() (*service.OrderService, error) {
	logger, err := logging.New("info", "console")
	if err != nil {
		return nil, err
	}
	store := storage.NewFileAdapter(ledgerPath)
	dist := event.NewDistributor(0, 0, nil, logger.Named("events"))
	return service.NewOrderService(store, nil, dist, nil, logger, service.Options{
		DefaultRate:     decimal.Zero,
		DefaultDueLimit: decimal.Zero,
	}), nil
}

func shiftDayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shift-day",
		Short: "Approve today's unfinished orders and re-date them into yesterday",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newOrderService()
			if err != nil {
				return err
			}
			n, err := svc.ShiftTodayToYesterday(cmd.Context(), actor)
			if err != nil {
				return err
			}
			fmt.Printf("shifted %d order(s) into yesterday\n", n)
			return nil
		},
	}
}

func clearGroupCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-group <group-id>",
		Short: "Remove every entry of a group (the group and its rate survive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear group %s without --yes", args[0])
			}
			svc, err := newOrderService()
			if err != nil {
				return err
			}
			n, err := svc.ClearGroup(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entrie(s) from group %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the clear")
	return cmd
}
