package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"xhbook/internal/shop"
	"xhbook/lib/platforms/xinhua"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var payFlags struct {
	method   string
	qrOut    string
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

func init() {
	f := ordersPayCmd.Flags()
	f.StringVar(&payFlags.method, "method", string(xinhua.Alipay), "Payment method, alipay or wechat.")
	f.StringVar(&payFlags.qrOut, "qr-out", "", "Write the payment QR code image to this file.")
	f.BoolVar(&payFlags.wait, "wait", false, "Wait until the order is paid.")
	f.DurationVar(&payFlags.interval, "interval", 3*time.Second, "How often to check the order while waiting.")
	f.DurationVar(&payFlags.timeout, "timeout", 10*time.Minute, "How long to wait for the payment.")

	ordersCmd.AddCommand(ordersListCmd, ordersShowCmd, ordersCancelCmd, ordersPayCmd)
	rootCmd.AddCommand(ordersCmd)
}

func renderOrder(w io.Writer, order xinhua.Order) {
	fmt.Fprintf(w, "Order %s, %s, placed %s\n", order.OrderID, order.Status, order.OrderDate)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Book", "Amount", "Count", "Payment", "Delivery"})
	for _, d := range order.Details {
		t.AppendRow(table.Row{
			d.BookName, fmt.Sprintf("%.2f", d.Amount), fmt.Sprintf("%.0f", d.OrderNum),
			d.PayStatusName, d.SendStatusName,
		})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%.2f", order.Amount)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Inspect, cancel and pay for orders.",
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the orders of the logged in student.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		orders, err := a.shop.Orders(ctx)
		if err != nil {
			return a.explain(ctx, err)
		}
		if len(orders) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No orders yet.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Id", "Date", "Status", "Amount", "Books"})
		for _, o := range orders {
			t.AppendRow(table.Row{o.OrderID, o.OrderDate, o.Status, fmt.Sprintf("%.2f", o.Amount), len(o.Details)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var ordersShowCmd = &cobra.Command{
	Use:   "show <order id>",
	Short: "Show the books of an order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		order, err := a.shop.Order(ctx, args[0])
		if err != nil {
			return a.explain(ctx, err)
		}
		renderOrder(cmd.OutOrStdout(), order)
		return nil
	},
}

var ordersCancelCmd = &cobra.Command{
	Use:   "cancel <order id>",
	Short: "Cancel an unpaid order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		order, err := a.shop.Order(ctx, args[0])
		if err != nil {
			return a.explain(ctx, err)
		}
		err = a.shop.Cancel(ctx, order)
		if errors.Is(err, shop.ErrNotPayable) {
			return err
		}
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Order %s cancelled.\n", order.OrderID)
		return nil
	},
}

var ordersPayCmd = &cobra.Command{
	Use:   "pay <order id>",
	Short: "Get the payment link of an unpaid order.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		out := cmd.OutOrStdout()

		method, err := xinhua.ParsePaymentMethod(payFlags.method)
		if err != nil {
			return err
		}
		if payFlags.wait && payFlags.interval <= 0 {
			return fmt.Errorf("%w: --interval %s", shop.ErrBadInterval, payFlags.interval)
		}
		err = a.restore(ctx)
		if err != nil {
			return err
		}
		order, err := a.shop.Order(ctx, args[0])
		if err != nil {
			return a.explain(ctx, err)
		}
		link, err := a.shop.PaymentURL(ctx, order, method)
		if errors.Is(err, shop.ErrNotPayable) {
			return err
		}
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(out, "Pay %.2f for order %s at:\n%s\n", order.Amount, order.OrderID, link)

		if payFlags.qrOut != "" {
			image, err := a.shop.QRCode(ctx, link)
			if err != nil {
				return a.explain(ctx, err)
			}
			err = os.WriteFile(payFlags.qrOut, image, 0644)
			if err != nil {
				return fmt.Errorf("write qr code: %w", err)
			}
			fmt.Fprintf(out, "QR code written to %s\n", payFlags.qrOut)
		}

		if !payFlags.wait {
			return nil
		}
		fmt.Fprintln(out, "Waiting for the payment...")
		waitCtx, cancel := context.WithTimeout(ctx, payFlags.timeout)
		defer cancel()
		paid, err := a.shop.WaitForPayment(waitCtx, order.OrderID, payFlags.interval)
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("the order was not paid in time")
		}
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(out, "Order %s is paid.\n", paid.OrderID)
		return nil
	},
}
