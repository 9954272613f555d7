package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/accmarket/market-bfa-go/internal/domain"
	"github.com/accmarket/market-bfa-go/internal/infra/market"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// ============================================================
// token
// ============================================================

func newTokenCmd(app func() *app, flags *GlobalFlags) *cobra.Command {
	var refresh, show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Acquire a bearer token and print its status",
		Long: `Resolve a bearer token the way the BFA does: a configured static
MARKET_API_TOKEN is used as-is, otherwise a client-credentials grant is made.
--refresh always performs the grant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			ctx := cmd.Context()

			var value string
			if refresh {
				tok, err := a.tokens.AcquireToken(ctx)
				if err != nil {
					return err
				}
				value = tok.Value
			} else {
				v, err := a.tokens.GetToken(ctx)
				if err != nil {
					return err
				}
				value = v
			}

			status := a.tokens.Status()
			out := struct {
				*domain.TokenStatus
				Token string `json:"token,omitempty"`
			}{TokenStatus: status}
			if show {
				out.Token = value
			}
			return render(cmd.OutOrStdout(), flags.Output, out, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "SOURCE\tACQUIRED\tEXPIRES\tREFRESHES")
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", status.Source, status.AcquiredAt, status.ExpiresHint, status.Refreshes)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Force a client-credentials grant")
	cmd.Flags().BoolVar(&show, "show", false, "Print the token value")
	return cmd
}

// ============================================================
// accounts
// ============================================================

func newAccountsCmd(app func() *app, flags *GlobalFlags) *cobra.Command {
	var (
		filterArgs []string
		page       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "accounts [category]",
		Short: "List normalized accounts (newest first without a category)",
		Long: `List one page of accounts, normalized the way the storefront sees them.

Filters are passed as --filter key=value and may repeat; a repeated key is
sent as a list (game[0]=730&game[1]=570).

Examples:
  marketctl accounts
  marketctl accounts steam --filter game=730 --filter game=570 --limit 10
  marketctl accounts riot --filter valorant_region=eu -o table`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var category domain.Category
			if len(args) == 1 {
				c, ok := domain.ParseCategory(args[0])
				if !ok {
					return fmt.Errorf("unknown category %q", args[0])
				}
				category = c
			}

			filters, err := parseFilters(filterArgs)
			if err != nil {
				return err
			}
			if page > 0 {
				filters["page"] = page
			}
			if limit > 0 {
				filters["limit"] = limit
			}

			result, err := app().catalog.ListAccounts(cmd.Context(), category, filters)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.Output, result, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tCATEGORY\tPRICE\tTITLE\tORIGIN\tLAST ACTIVITY")
				for _, acc := range result.Items {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						acc.ID, acc.Category, acc.DisplayPrice, acc.Title, acc.Origin, acc.LastActivity)
				}
				fmt.Fprintf(w, "\npage %d\thas more: %t\n", result.Page, result.HasMore)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filterArgs, "filter", "f", nil, "Filter as key=value (repeatable)")
	cmd.Flags().IntVar(&page, "page", 0, "Page number (default 1)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 20)")
	return cmd
}

// parseFilters turns key=value pairs into Filters; repeated keys become lists.
func parseFilters(pairs []string) (domain.Filters, error) {
	filters := domain.Filters{}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", p)
		}
		switch prev := filters[key].(type) {
		case nil:
			filters[key] = value
		case string:
			filters[key] = []string{prev, value}
		case []string:
			filters[key] = append(prev, value)
		}
	}
	return filters, nil
}

// ============================================================
// item
// ============================================================

func newItemCmd(app func() *app, flags *GlobalFlags) *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "item <id>",
		Short: "Show one normalized account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("item id must be a positive integer, got %q", args[0])
			}

			acc, err := app().catalog.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			if dump {
				spew.Fdump(cmd.OutOrStdout(), acc)
				return nil
			}
			return render(cmd.OutOrStdout(), flags.Output, acc, nil)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the Go value (all detail blocks, nil pointers included)")
	return cmd
}

// ============================================================
// categories
// ============================================================

func newCategoriesCmd(app func() *app, flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List upstream categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := app().catalog.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.Output, cats, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tTITLE")
				for _, c := range cats {
					fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Name, c.Title)
				}
			})
		},
	}
}

// ============================================================
// raw
// ============================================================

func newRawCmd(app func() *app, flags *GlobalFlags) *cobra.Command {
	var queryArgs []string

	cmd := &cobra.Command{
		Use:   "raw <path>",
		Short: "GET an arbitrary API path and print the unnormalized body",
		Long: `GET a marketplace path with the current bearer token and print the
body without normalization. A 401 triggers one token refresh and one retry,
as in the BFA client.

Example:
  marketctl raw /steam --query game=730 --query pmax=500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			query, err := parseFilters(queryArgs)
			if err != nil {
				return err
			}
			body, err := rawGet(cmd.Context(), a, args[0], query)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var pretty bytes.Buffer
			if json.Indent(&pretty, body, "", "  ") == nil {
				body = pretty.Bytes()
			}
			_, err = fmt.Fprintln(out, string(body))
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&queryArgs, "query", "q", nil, "Query parameter as key=value (repeatable)")
	return cmd
}

func rawGet(ctx context.Context, a *app, path string, query domain.Filters) ([]byte, error) {
	target := a.cfg.MarketURL() + "/" + strings.TrimLeft(path, "/")
	if qs := market.EncodeQuery(query); qs != "" {
		target += "?" + qs
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	requestID := uuid.NewString()

	for attempt := 1; ; attempt++ {
		status, body, err := rawAttempt(ctx, a, target, requestID)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			return body, nil
		}
		if status != http.StatusUnauthorized || attempt == 2 {
			return nil, &domain.APIError{Status: status, StatusText: http.StatusText(status), Body: string(body)}
		}
		if _, err := a.tokens.AcquireToken(ctx); err != nil {
			return nil, fmt.Errorf("refresh token after 401: %w", err)
		}
	}
}

// rawAttempt sends one GET. A fresh oauth2 client per attempt picks up a
// refreshed token.
func rawAttempt(ctx context.Context, a *app, target, requestID string) (int, []byte, error) {
	httpClient := oauth2.NewClient(ctx, a.tokens.TokenSource(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", market.ClientName)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, &domain.NetworkError{Op: http.MethodGet, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &domain.NetworkError{Op: http.MethodGet, URL: target, Err: err}
	}
	return resp.StatusCode, body, nil
}
