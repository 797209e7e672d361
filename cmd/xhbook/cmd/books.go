package cmd

import (
	"fmt"
	"io"

	"xhbook/internal/shop"
	"xhbook/lib/platforms/xinhua"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var booksFilter string

var orderFlags struct {
	all bool
	yes bool
}

func init() {
	booksCmd.Flags().StringVar(&booksFilter, "filter", "", "Only show books whose name or course resembles this.")
	orderCmd.Flags().BoolVar(&orderFlags.all, "all", false, "Order every listed book.")
	orderCmd.Flags().BoolVarP(&orderFlags.yes, "yes", "y", false, "Do not ask for confirmation.")

	rootCmd.AddCommand(booksCmd, orderCmd)
}

func renderBooks(w io.Writer, books []xinhua.Book) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Id", "Name", "Course", "Class", "Teacher", "Price", "Stock"})
	for _, b := range books {
		t.AppendRow(table.Row{
			b.BookID, b.BookName, b.Course, b.ClassNo, b.Teacher,
			fmt.Sprintf("%.2f", b.RealPrice), fmt.Sprintf("%.0f", b.Stock),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List the books available to the logged in student.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		books, err := a.shop.Books(ctx)
		if err != nil {
			return a.explain(ctx, err)
		}
		books = shop.FilterBooks(books, booksFilter)
		if len(books) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No books found.")
			return nil
		}
		renderBooks(cmd.OutOrStdout(), books)
		return nil
	},
}

var orderCmd = &cobra.Command{
	Use:   "order [book id...]",
	Short: "Place an order for the given books.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current
		err := a.restore(ctx)
		if err != nil {
			return err
		}
		books, err := a.shop.Books(ctx)
		if err != nil {
			return a.explain(ctx, err)
		}

		selection := shop.NewSelection(books)
		if orderFlags.all {
			selection.SelectAll()
		}
		for _, id := range args {
			err = selection.Set(id, true)
			if err != nil {
				return err
			}
		}

		count, total := selection.Summary()
		if count == 0 {
			return shop.ErrEmptySelection
		}
		renderBooks(cmd.OutOrStdout(), selection.Selected())
		fmt.Fprintf(cmd.OutOrStdout(), "%d books, %.2f in total.\n", count, total)

		if !orderFlags.yes {
			ok, err := newPrompter(cmd).Confirm("Place the order?", false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		orderID, err := a.shop.PlaceOrder(ctx, selection)
		if err != nil {
			return a.explain(ctx, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Order %s placed, pay for it with `xhbook orders pay %s`.\n", orderID, orderID)
		return nil
	},
}
