package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"storefront/internal/app"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/domain"
	"storefront/internal/pagination"
)

var errUsage = errors.New("bad arguments, run storefront -h")

type command struct {
	minArgs int
	maxArgs int
	run     func(ctx context.Context, a *app.App, out io.Writer, args []string) error
}

var commands = map[string]command{
	"products":       {0, 1, listProducts},
	"product":        {1, 1, showProduct},
	"cart":           {0, 0, showCart},
	"add":            {2, 2, addItem},
	"qty":            {2, 2, setQty},
	"rm":             {1, 1, removeLine},
	"clear":          {0, 0, clearCart},
	"checkout":       {0, 0, proceed},
	"submit":         {4, 5, submit},
	"pay":            {0, 0, pay},
	"back":           {0, 0, back},
	"orders":         {0, 1, listOrders},
	"login":          {2, 2, login},
	"logout":         {0, 0, logout},
	"check":          {0, 0, check},
	"admin-products": {0, 1, adminProducts},
	"admin-delete":   {1, 1, adminDelete},
	"upload":         {1, 1, upload},
}

func run(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || len(rest) > cmd.maxArgs {
		return fmt.Errorf("%s: %w", args[0], errUsage)
	}
	return cmd.run(ctx, a, out, rest)
}

func listProducts(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	products, err := a.Catalog.Products(ctx)
	if err != nil {
		return err
	}
	category := catalog.AllCategories
	if len(args) == 1 {
		category = args[0]
	}
	fmt.Fprintf(out, "categories: %s\n", strings.Join(catalog.Categories(products), ", "))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tPRICE\tSTOCK")
	for _, p := range catalog.ByCategory(products, category) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Title, p.Category, p.Price.StringFixed(0), p.Num)
	}
	return tw.Flush()
}

func showProduct(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	p, err := a.Catalog.Product(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s / %s)\n", p.Title, p.Category, p.Subcategory)
	fmt.Fprintf(out, "price: %s (was %s) per %s\n", p.Price.StringFixed(0), p.OriginPrice.StringFixed(0), p.Unit)
	fmt.Fprintf(out, "stock: %d\n%s\n", p.Num, p.Description)
	return nil
}

func showCart(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Cart.Fetch(ctx); err != nil {
		return err
	}
	return printCart(a, out)
}

func printCart(a *app.App, out io.Writer) error {
	view := a.Cart.View()
	if len(view.Lines) == 0 {
		fmt.Fprintln(out, "cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tPRODUCT\tQTY\tTOTAL")
	for _, l := range view.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.ID, l.Product.Title, l.Qty, l.FinalTotal.StringFixed(0))
	}
	fmt.Fprintf(tw, "\t\t\t%s\n", view.FinalTotal.StringFixed(0))
	return tw.Flush()
}

func addItem(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("qty %q: %w", args[1], errUsage)
	}
	if err := a.Cart.AddItem(ctx, args[0], qty); err != nil {
		return err
	}
	return printCart(a, out)
}

func setQty(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("qty %q: %w", args[1], errUsage)
	}
	if err := a.Cart.Fetch(ctx); err != nil {
		return err
	}
	if err := a.Cart.UpdateQty(ctx, args[0], qty); err != nil {
		return err
	}
	return printCart(a, out)
}

func removeLine(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if err := a.Cart.Fetch(ctx); err != nil {
		return err
	}
	if err := a.Cart.RemoveLine(ctx, args[0]); err != nil {
		return err
	}
	return printCart(a, out)
}

func clearCart(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Cart.Fetch(ctx); err != nil {
		return err
	}
	if err := a.Cart.ClearAll(ctx); err != nil {
		return err
	}
	return printCart(a, out)
}

func proceed(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Checkout.Proceed(ctx); err != nil {
		return err
	}
	return printState(a, out)
}

func submit(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	form := checkout.Form{
		Customer: domain.Customer{Name: args[0], Email: args[1], Tel: args[2], Address: args[3]},
	}
	if len(args) == 5 {
		form.Message = args[4]
	}
	// Each run starts at CART; the order form lives in this invocation only.
	if err := a.Checkout.Proceed(ctx); err != nil {
		return err
	}
	if err := a.Checkout.Submit(ctx, form); err != nil {
		return err
	}
	return printState(a, out)
}

func pay(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Checkout.Pay(ctx); err != nil {
		return err
	}
	return printState(a, out)
}

func back(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	var err error
	if a.Checkout.Step() == checkout.StepPayment {
		err = a.Checkout.ReturnToCart(ctx)
	} else {
		err = a.Checkout.Back()
	}
	if err != nil {
		return err
	}
	return printState(a, out)
}

func printState(a *app.App, out io.Writer) error {
	st := a.Checkout.State()
	fmt.Fprintf(out, "step: %s\n", st.Step)
	if st.Order == nil {
		return nil
	}
	o := st.Order
	fmt.Fprintf(out, "order: %s\ntotal: %s\n", o.ID, o.Total.StringFixed(0))
	if paidAt, ok := o.PaidAt(); ok {
		fmt.Fprintf(out, "paid: %s\n", paidAt.Local().Format(time.DateTime))
	} else {
		fmt.Fprintln(out, "paid: no")
	}
	return nil
}

func listOrders(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	page, err := pageArg(args)
	if err != nil {
		return err
	}
	h, err := a.Checkout.Orders(ctx, page)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tCREATED\tTOTAL\tPAID")
	for _, o := range h.Orders {
		created := time.Unix(o.CreateAt, 0).Local().Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", o.ID, created, o.Total.StringFixed(0), o.IsPaid)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printWindow(out, page, h.Window)
	return nil
}

func login(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if err := a.Session.Login(ctx, domain.Credentials{Username: args[0], Password: args[1]}); err != nil {
		return err
	}
	fmt.Fprintln(out, "signed in")
	return nil
}

func logout(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	if err := a.Session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "signed out")
	return nil
}

func check(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
	status, err := a.Session.Check(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session: %s\n", status)
	return nil
}

func adminProducts(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	page, err := pageArg(args)
	if err != nil {
		return err
	}
	p, err := a.Catalog.List(ctx, page)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tPRICE\tENABLED")
	for _, pr := range p.Products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", pr.ID, pr.Title, pr.Category, pr.Price.StringFixed(0), pr.IsEnabled == 1)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printWindow(out, p.Meta.CurrentPage, p.Window)
	return nil
}

func adminDelete(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if err := a.Catalog.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(out, "deleted", args[0])
	return nil
}

func upload(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	u, err := a.Catalog.Upload(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, u)
	return nil
}

func pageArg(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	page, err := strconv.Atoi(args[0])
	if err != nil || page < 1 {
		return 0, fmt.Errorf("page %q: %w", args[0], errUsage)
	}
	return page, nil
}

// printWindow renders the pager as e.g. "« 1 … 3 4 [5] 6 7 … 10 »".
func printWindow(out io.Writer, current int, w pagination.Window) {
	if !w.Visible {
		return
	}
	var b strings.Builder
	if w.HasPrev {
		b.WriteString("« ")
	}
	for i, page := range w.Buttons {
		if i > 0 {
			b.WriteByte(' ')
		}
		if w.EllipsisBefore[i] {
			b.WriteString("… ")
		}
		if page == current {
			fmt.Fprintf(&b, "[%d]", page)
		} else {
			b.WriteString(strconv.Itoa(page))
		}
	}
	if w.HasNext {
		b.WriteString(" »")
	}
	fmt.Fprintln(out, b.String())
}
