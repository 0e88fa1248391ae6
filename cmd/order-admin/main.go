// Command order-admin drives order fulfilment, returns, refunds and store
// settings through the admin API.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newApp(os.Stdout, nil).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer, hc *http.Client) *cli.App {
	if hc == nil {
		hc = &http.Client{Timeout: time.Minute, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	client := func(c *cli.Context) (*Client, error) {
		return NewClient(c.String("api-url"), c.String("api-key"), hc)
	}

	action := func(name, path string) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     name + " an order",
			ArgsUsage: "ORDER_ID",
			Action: func(c *cli.Context) error {
				id, err := orderID(c)
				if err != nil {
					return err
				}
				cl, err := client(c)
				if err != nil {
					return err
				}
				o, err := cl.OrderAction(c.Context, id, path, nil)
				if err != nil {
					return err
				}
				printOrder(out, o)
				return nil
			},
		}
	}

	return &cli.App{
		Name:   "order-admin",
		Usage:  "storefront order administration",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api-url", EnvVars: []string{"STORE_API_URL"}, Value: "http://localhost:8080"},
			&cli.StringFlag{Name: "api-key", EnvVars: []string{"STORE_API_KEY"}, Required: true},
		},
		Commands: []*cli.Command{
			action("ship", "ship"),
			action("deliver", "deliver"),
			action("cancel", "cancel"),
			action("refund", "refund"),
			{
				Name:  "return",
				Usage: "manage return requests",
				Subcommands: []*cli.Command{
					action("approve", "return/approve"),
					{
						Name:      "reject",
						Usage:     "reject a return request",
						ArgsUsage: "ORDER_ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "reason", Required: true},
						},
						Action: func(c *cli.Context) error {
							id, err := orderID(c)
							if err != nil {
								return err
							}
							cl, err := client(c)
							if err != nil {
								return err
							}
							o, err := cl.OrderAction(c.Context, id, "return/reject", map[string]string{"reason": c.String("reason")})
							if err != nil {
								return err
							}
							printOrder(out, o)
							return nil
						},
					},
					action("complete", "return/complete"),
				},
			},
			{
				Name:      "set",
				Usage:     "update a store setting",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return errors.New("usage: set KEY VALUE")
					}
					cl, err := client(c)
					if err != nil {
						return err
					}
					if err := cl.UpdateSetting(c.Context, c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(out, "%s updated\n", c.Args().Get(0))
					return nil
				},
			},
		},
	}
}

func orderID(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("usage: %s ORDER_ID", c.Command.HelpName)
	}
	return c.Args().First(), nil
}

func printOrder(out io.Writer, o *OrderState) {
	_, _ = fmt.Fprintf(out, "order %s (%s): status=%s payment=%s return=%s total=%s",
		o.Number, o.ID, o.Status, o.PaymentStatus, o.ReturnStatus, o.Total)
	if o.RefundOwed {
		_, _ = fmt.Fprint(out, " refund_owed")
	}
	_, _ = fmt.Fprintln(out)
}
