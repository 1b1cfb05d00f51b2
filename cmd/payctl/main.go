package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/offpaylabs/offpay/internal/model"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "payctl",
		Short: "Offline-first payment client",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "config file path")

	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(offlineCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the local ledger balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			bal, err := app.store.Balance(cmd.Context())
			if err != nil {
				return err
			}
			offline, err := app.store.OfflineMode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("balance: %s %s (offline mode: %v)\n", app.cfg.Client.Currency, bal, offline)
			return nil
		},
	}
}

func payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay [scanned-text]",
		Short: "Pay a scanned QR payment instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			res, err := app.svc.ScanAndPay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("state:   %s\n", res.State)
			fmt.Printf("txn:     %s\n", res.Transaction.TransactionID)
			fmt.Printf("peers:   %d\n", res.PeersReached)
			fmt.Println(res.Message)
			return nil
		},
	}
}

func qrCmd() *cobra.Command {
	var amount, invoice, note string
	var lock bool
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Generate a merchant payment-request payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			amt, err := model.AmountFromString(amount)
			if err != nil {
				return err
			}
			payload, err := app.svc.RequestPayment(cmd.Context(), amt, invoice, note, lock)
			if err != nil {
				return err
			}
			fmt.Println(payload.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "amount due, e.g. 2500.00")
	cmd.Flags().StringVarP(&invoice, "invoice", "i", "", "invoice reference (generated if empty)")
	cmd.Flags().StringVarP(&note, "note", "n", "", "free-text note")
	cmd.Flags().BoolVar(&lock, "lock", true, "lock the amount against payer edits")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload pending transactions and merge back verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			results, err := app.svc.SyncPending(cmd.Context())
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("nothing to sync")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%s  score=%.2f  %s\n", r.TransactionID, r.RiskScore, r.Classification)
			}
			fmt.Printf("%d transaction(s) reconciled\n", len(results))
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the local transaction history",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			txs, err := app.store.Transactions(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range txs {
				status := "pending"
				if t.Synced {
					status = t.Classification
				}
				fmt.Printf("%s  %s -> %s  %s  peers=%d  [%s]\n",
					t.Timestamp, t.SenderID, t.ReceiverID, t.Amount, t.PropagatedToPeers, status)
			}
			return nil
		},
	}
}

func offlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offline [on|off]",
		Short: "Toggle offline mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			switch args[0] {
			case "on":
				return app.store.SetOfflineMode(cmd.Context(), true)
			case "off":
				return app.store.SetOfflineMode(cmd.Context(), false)
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Seed the ledger from the remote profile balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			bal, err := app.fetchProfileBalance(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.svc.SeedBalance(cmd.Context(), bal); err != nil {
				return err
			}
			fmt.Printf("ledger seeded with %s %s\n", app.cfg.Client.Currency, bal)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the ledger balance manually (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			amt, err := model.AmountFromString(amount)
			if err != nil {
				return err
			}
			return app.svc.SeedBalance(cmd.Context(), amt)
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "balance, e.g. 10000.00")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
