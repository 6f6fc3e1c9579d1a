package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"invoice-engine/internal/app"
	"invoice-engine/internal/core"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// ServiceFactory connects to the database and returns a service backed by it,
// together with a function that releases the connection.
type ServiceFactory func(ctx context.Context) (app.ApplicationService, func(), error)

// ErrNotCommitted is returned when an edit script did not produce a commit.
var ErrNotCommitted = errors.New("invoice not committed")

// NewRootCommand builds the command tree. offline serves the commands that
// need no database (recompute, schema); connect is called by the others.
func NewRootCommand(offline app.ApplicationService, connect ServiceFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "app",
		Short: "Invoice line-item engine",
		Long: `Computes invoice totals, validates item edits against stock and
records payments for customer and vendor invoices.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		recomputeCmd(offline),
		schemaCmd(offline),
		showCmd(connect),
		listCmd(connect),
		editCmd(connect),
		newCmd(connect),
		payCmd(connect),
		stockCmd(connect),
		receiveCmd(connect),
	)
	return root
}

// withService runs fn with a connected service.
func withService(cmd *cobra.Command, connect ServiceFactory, fn func(ctx context.Context, svc app.ApplicationService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, release, err := connect(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, svc)
}

func recomputeCmd(svc app.ApplicationService) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Read an invoice as JSON from stdin and print its derived totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var inv core.Invoice
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&inv); err != nil {
				return fmt.Errorf("invalid invoice JSON: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), svc.Recompute(inv))
		},
	}
}

func schemaCmd(svc app.ApplicationService) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the edit script format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), svc.EditScriptSchema())
		},
	}
}

func showCmd(connect ServiceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "show <invoice-id>",
		Short: "Print a stored invoice with its payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.GetInvoice(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func listCmd(connect ServiceFactory) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter *core.PaymentStatus
			if status != "" {
				st, err := core.ParsePaymentStatus(status)
				if err != nil {
					return err
				}
				filter = &st
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.ListInvoices(ctx, filter)
				if err != nil {
					return err
				}
				printInvoices(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by payment status (paid, partially_paid, pending)")
	return cmd
}

func editCmd(connect ServiceFactory) *cobra.Command {
	var scriptPath, key string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "edit <invoice-id>",
		Short: "Apply an edit script to a stored invoice and commit it",
		Example: `  app edit 42 --script edits.json
  app edit 42 --script edits.json --dry-run
  cat edits.json | app edit 42 --script -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			script, err := readScript(cmd.InOrStdin(), scriptPath)
			if err != nil {
				return err
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.EditInvoice(ctx, app.EditInvoiceRequest{
					InvoiceID: id, Script: script, DryRun: dryRun, IdempotencyKey: key,
				})
				if err != nil {
					return err
				}
				return reportEdit(cmd.OutOrStdout(), result, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "edit script file, or - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print totals without committing")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse the key reported by a failed commit")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func newCmd(connect ServiceFactory) *cobra.Command {
	var kind, party, scriptPath, key string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an invoice from an edit script",
		Example: `  app new --kind customer --party CUST-7 --script items.json
  app new --kind vendor --party FARM-2 --script purchase.json
  app new --party CUST-7 --script items.json --idempotency-key 5f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := readScript(cmd.InOrStdin(), scriptPath)
			if err != nil {
				return err
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.CreateInvoice(ctx, app.NewInvoiceRequest{
					Kind: kind, PartyRef: party, Script: script, DryRun: dryRun, IdempotencyKey: key,
				})
				if err != nil {
					return err
				}
				return reportEdit(cmd.OutOrStdout(), result, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "customer", "invoice kind: customer or vendor")
	cmd.Flags().StringVar(&party, "party", "", "customer or vendor reference")
	cmd.Flags().StringVar(&scriptPath, "script", "", "edit script file, or - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print totals without committing")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse the key reported by a failed commit")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func payCmd(connect ServiceFactory) *cobra.Command {
	var amount, method, date string
	cmd := &cobra.Command{
		Use:   "pay <invoice-id>",
		Short: "Record a payment against an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(strings.TrimSpace(amount))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			var paidOn time.Time
			if date != "" {
				paidOn, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
				}
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.RecordPayment(ctx, app.RecordPaymentRequest{InvoiceID: id, Amount: amt, Method: method, Date: paidOn})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result.Payment)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "payment amount")
	cmd.Flags().StringVar(&method, "method", "", "payment method (cash, bank, cheque, ...)")
	cmd.Flags().StringVar(&date, "date", "", "payment date YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func stockCmd(connect ServiceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stock [item-ref...]",
		Short: "Print stock levels, optionally only for the given items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				result, err := svc.GetStockLevels(ctx)
				if err != nil {
					return err
				}
				printStock(cmd.OutOrStdout(), filterStock(result.Levels, args))
				return nil
			})
		},
	}
}

func receiveCmd(connect ServiceFactory) *cobra.Command {
	var name, quantity, netWeight, grossWeight string
	cmd := &cobra.Command{
		Use:   "receive <item-ref>",
		Short: "Add stock for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.ReceiveStockRequest{
				ItemRef:     args[0],
				DisplayName: name,
				Quantity:    core.ParseAmount(quantity),
				NetWeight:   core.ParseAmount(netWeight),
				GrossWeight: core.ParseAmount(grossWeight),
			}
			return withService(cmd, connect, func(ctx context.Context, svc app.ApplicationService) error {
				if err := svc.ReceiveStock(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stock received for %s.\n", req.ItemRef)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&quantity, "quantity", "0", "units received")
	cmd.Flags().StringVar(&netWeight, "net-weight", "0", "net weight received (kg)")
	cmd.Flags().StringVar(&grossWeight, "gross-weight", "0", "gross weight received (kg)")
	return cmd
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid invoice id %q", s)
	}
	return id, nil
}

func readScript(stdin io.Reader, path string) (app.EditScript, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return app.EditScript{}, fmt.Errorf("failed to open script: %w", err)
		}
		defer f.Close()
		r = f
	}
	var script app.EditScript
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&script); err != nil {
		return app.EditScript{}, fmt.Errorf("invalid edit script: %w", err)
	}
	return script, nil
}

func reportEdit(w io.Writer, result *app.EditResult, dryRun bool) error {
	if err := writeJSON(w, result); err != nil {
		return err
	}
	if result.Committed || (dryRun && len(result.OpErrors) == 0 && result.ValidationError == "") {
		return nil
	}
	return fmt.Errorf("%w: %d rejected operation(s), %d item error(s)%s",
		ErrNotCommitted, len(result.OpErrors), len(result.ItemErrors), validationSuffix(result.ValidationError))
}

func validationSuffix(msg string) string {
	if msg == "" {
		return ""
	}
	return ", " + strings.ReplaceAll(msg, "\n", "; ")
}

func filterStock(levels []core.StockLevel, refs []string) []core.StockLevel {
	if len(refs) == 0 {
		return levels
	}
	want := make(map[string]bool, len(refs))
	for _, r := range refs {
		want[r] = true
	}
	var out []core.StockLevel
	for _, l := range levels {
		if want[l.ItemRef] {
			out = append(out, l)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStock(w io.Writer, levels []core.StockLevel) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "  %-14s %-24s %8s %12s %12s\n", "ITEM", "NAME", "QTY", "NET KG", "GROSS KG")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, l := range levels {
		fmt.Fprintf(w, "  %-14s %-24s %8s %12s %12s\n",
			l.ItemRef, l.DisplayName, l.Quantity.String(), l.NetWeight.StringFixed(3), l.GrossWeight.StringFixed(3))
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func printInvoices(w io.Writer, result *app.InvoiceListResult) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "  %-6s %-9s %-14s %14s %14s %-15s\n", "ID", "KIND", "PARTY", "TOTAL", "REMAINING", "STATUS")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, inv := range result.Invoices {
		fmt.Fprintf(w, "  %-6d %-9s %-14s %14s %14s %-15s\n",
			inv.ID, inv.Kind.Name(), inv.PartyRef,
			inv.TotalAmount.StringFixed(2), inv.RemainingAmount.StringFixed(2), inv.PaymentStatus)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}
