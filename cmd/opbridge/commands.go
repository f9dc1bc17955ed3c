package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/wippyai/op-bridge/ffi"
	"github.com/wippyai/op-bridge/onepassword"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the core and validate its ABI contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			s, err := a.openBridge(ctx)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			result := struct {
				Version   uint32            `json:"contract_version"`
				Checksums map[string]uint16 `json:"checksums"`
			}{Version: s.bridge.Version(), Checksums: map[string]uint16{}}
			for _, c := range ffi.ExpectedChecksums {
				result.Checksums[string(c.Symbol)] = c.Value
			}

			if a.flags.json {
				return writeJSON(a.out, result)
			}
			fmt.Fprintf(a.out, "contract version %d ok\n", result.Version)
			for _, c := range ffi.ExpectedChecksums {
				fmt.Fprintf(a.out, "  %-16s %5d ok\n", c.Symbol, c.Value)
			}
			return nil
		},
	}
}

func newVaultsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vaults",
		Short: "List the vaults the service account can read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			client, done, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer done()

			vaults, err := client.Vaults(ctx)
			if err != nil {
				return err
			}
			if a.flags.json {
				return writeJSON(a.out, vaults)
			}
			rows := make([][]string, len(vaults))
			for i, v := range vaults {
				rows[i] = []string{v.ID, v.Title}
			}
			return writeTable(a.out, []string{"ID", "TITLE"}, rows)
		},
	}
}

func newItemsCommand(a *app) *cobra.Command {
	var vaultTitle, website string

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List the items in a vault",
		Example: `  opbridge items --vault Personal
  opbridge items --vault Personal --website github.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			client, done, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer done()

			vault, err := client.VaultByTitle(ctx, vaultTitle)
			if err != nil {
				return err
			}
			if vault == nil {
				return fmt.Errorf("no vault titled %q", vaultTitle)
			}

			var items []*onepassword.Item
			if website != "" {
				items, err = vault.ItemsForWebsite(ctx, website)
			} else {
				items, err = vault.Items(ctx)
			}
			if err != nil {
				return err
			}

			if a.flags.json {
				if items == nil {
					items = []*onepassword.Item{}
				}
				return writeJSON(a.out, items)
			}
			rows := make([][]string, len(items))
			for i, it := range items {
				urls := make([]string, len(it.Websites))
				for j, w := range it.Websites {
					urls[j] = w.URL
				}
				rows[i] = []string{it.ID, it.Title, it.Category, strings.Join(urls, " ")}
			}
			return writeTable(a.out, []string{"ID", "TITLE", "CATEGORY", "WEBSITES"}, rows)
		},
	}

	cmd.Flags().StringVar(&vaultTitle, "vault", "", "vault title")
	cmd.Flags().StringVar(&website, "website", "", "only items for this website")
	cmd.MarkFlagRequired("vault")
	return cmd
}

func newSecretCommand(a *app) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "secret <vault> <item>",
		Short: "Print a field of an item",
		Long: `Resolve a field of an item, looked up by vault and item title, and print
its value. The password field is used unless --field is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.withTimeout(cmd.Context())
			defer cancel()

			client, done, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer done()

			vault, err := client.VaultByTitle(ctx, args[0])
			if err != nil {
				return err
			}
			if vault == nil {
				return fmt.Errorf("no vault titled %q", args[0])
			}
			items, err := vault.Items(ctx)
			if err != nil {
				return err
			}
			var item *onepassword.Item
			for _, it := range items {
				if it.Title == args[1] {
					item = it
					break
				}
			}
			if item == nil {
				return fmt.Errorf("no item titled %q in %q", args[1], args[0])
			}

			secret, err := item.Resolve(ctx, field)
			if err != nil {
				return err
			}
			if secret == nil {
				return fmt.Errorf("%s has no %s field", item.SecretReference(field), field)
			}

			if a.flags.json {
				return writeJSON(a.out, map[string]string{
					"reference": item.SecretReference(field),
					"value":     secret.Expose(),
				})
			}
			fmt.Fprintln(a.out, secret.Expose())
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "password", "item field to resolve")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
