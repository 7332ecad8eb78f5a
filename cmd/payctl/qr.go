package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
	qrservice "github.com/zhouzirui/z-pay/client/internal/service/qr"
)

func newQRCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Work with QR payment links",
	}
	cmd.AddCommand(newQRShowCmd(c), newQRPayCmd(c), newQRWatchCmd(c))
	return cmd
}

func newQRShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <link-id>",
		Short: "Show a payment link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := c.app.QR.GetLink(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLink(c, link)
			return nil
		},
	}
}

func newQRPayCmd(c *cli) *cobra.Command {
	var amount, method, phone string
	cmd := &cobra.Command{
		Use:   "pay <link-id>",
		Short: "Pay a payment link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			link, err := c.app.QR.GetLink(ctx, args[0])
			if err != nil {
				return err
			}
			minor, err := qrservice.ParseAmount(amount, link)
			if err != nil {
				return err
			}
			result, err := c.app.QR.Pay(ctx, link.ID, qrmodel.PayRequest{Amount: minor, Method: method, Phone: phone})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Payment %s: %s (transaction %s)\n",
				result.Status, qrservice.FormatAmount(result.Amount, result.Currency), result.TransactionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount, e.g. 1250.50 (may be omitted for fixed-amount links)")
	cmd.Flags().StringVar(&method, "method", "qpay", "Payment method")
	cmd.Flags().StringVar(&phone, "phone", "", "Payer phone number")
	return cmd
}

func newQRWatchCmd(c *cli) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "watch <link-id>",
		Short: "Follow the status of a payment link until it is paid, expired or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			events, err := c.app.QR.Watch(ctx, args[0])
			if err != nil {
				return err
			}
			var last qrmodel.LinkStatus
			for ev := range events {
				last = ev.Status
				fmt.Fprintf(c.out, "%s  %s\n", ev.At.Local().Format(time.TimeOnly), ev.Status)
			}
			if !last.Terminal() {
				return fmt.Errorf("stopped watching %s while %s", args[0], last)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

func printLink(c *cli, link qrmodel.PaymentLink) {
	fmt.Fprintf(c.out, "id:       %s\nmerchant: %s\nstatus:   %s\n", link.ID, link.MerchantName, link.Status)
	if link.Description != "" {
		fmt.Fprintf(c.out, "note:     %s\n", link.Description)
	}
	if link.FixedAmount() {
		fmt.Fprintf(c.out, "amount:   %s\n", qrservice.FormatAmount(link.Amount, link.Currency))
	} else {
		fmt.Fprintf(c.out, "amount:   payer chooses (%s)\n", link.Currency)
		if link.MinAmount > 0 {
			fmt.Fprintf(c.out, "minimum:  %s\n", qrservice.FormatAmount(link.MinAmount, link.Currency))
		}
		if link.MaxAmount > 0 {
			fmt.Fprintf(c.out, "maximum:  %s\n", qrservice.FormatAmount(link.MaxAmount, link.Currency))
		}
	}
	if !link.ExpiresAt.IsZero() {
		fmt.Fprintf(c.out, "expires:  %s\n", link.ExpiresAt.Local().Format(time.RFC3339))
	}
}
