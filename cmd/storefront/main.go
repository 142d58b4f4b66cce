package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/coordinator"
	"storefront/internal/logging"
)

const usage = `usage: storefront [-config FILE] [-v] COMMAND [ARGS]

shop:
  products [CATEGORY]    list the catalog
  product ID             show one product
  cart                   show the cart
  add ID QTY             add a product
  qty LINE QTY           change a line's quantity
  rm LINE                remove a line
  clear                  empty the cart
  checkout               move from the cart to the order form
  submit NAME EMAIL TEL ADDRESS [MESSAGE]
                         place the order
  pay                    pay the current order
  back                   return to the cart
  orders [PAGE]          list past orders

admin:
  login USER PASS        sign in
  logout                 sign out
  check                  verify the stored session
  admin-products [PAGE]  list products with paging
  admin-delete ID        delete a product
  upload FILE            upload an image
`

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	fs := flag.NewFlagSet("storefront", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("STOREFRONT_CONFIG"), "YAML config file")
	verbose := fs.Bool("v", false, "show request activity on stderr")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	level := cfg.Log.Level
	if !*verbose {
		level = "error"
	}
	logger, err := logging.New("storefront", cfg.Log.File, level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	opts := app.Options{
		Navigator: coordinator.NavigatorFunc(func(context.Context) {
			fmt.Fprintln(os.Stderr, "session expired: run `storefront login USER PASS`")
		}),
	}
	if *verbose {
		opts.Indicator = coordinator.IndicatorFuncs{
			OnShow: func() { fmt.Fprintln(os.Stderr, "loading...") },
			OnHide: func() { fmt.Fprintln(os.Stderr, "done") },
		}
	}
	a, err := app.New(cfg, logger, opts)
	if err != nil {
		log.Fatalf("storefront: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logging.WithCtx(ctx, logger.With("command", fs.Arg(0)))
	if err := a.Hydrate(ctx); err != nil {
		logger.Warn("hydrate", "error", err)
	}
	if err := run(ctx, a, os.Stdout, fs.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", coordinator.MessageOf(err))
		stop()
		a.Close()
		os.Exit(1)
	}
}
