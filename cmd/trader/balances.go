package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// newBalancesCmd печатает ненулевые балансы каждой биржи
func newBalancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print non-zero balances per exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			for _, venue := range a.Exchanges().All() {
				if err := venue.FetchBalances(ctx); err != nil {
					return fmt.Errorf("fetch balances %s: %w", venue.Name(), err)
				}

				balances := venue.Balances()
				currencies := make([]string, 0, len(balances))
				for currency, amount := range balances {
					if amount != 0 {
						currencies = append(currencies, currency)
					}
				}
				sort.Strings(currencies)

				fmt.Printf("%s:\n", venue.Name())
				if len(currencies) == 0 {
					fmt.Println("  (empty)")
					continue
				}
				for _, currency := range currencies {
					fmt.Printf("  %-6s %.8f\n", currency, balances[currency])
				}
			}
			return nil
		},
	}
}
