package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cryptotrader/internal/models"
)

// Цены по умолчанию для market-ордеров: заведомо нерыночные крайние
// значения, чтобы оценка стоимости не блокировала размещение
const (
	defaultBuyPrice  = 0.00000001
	defaultSellPrice = 100000000.0
)

// newPlaceCmd размещает один ордер напрямую через адаптер биржи
func newPlaceCmd() *cobra.Command {
	var (
		exchangeName string
		side         string
		pair         string
		amount       float64
		price        float64
	)

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Submit a single market order through the exchange session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			venue, err := a.Exchanges().Get(exchangeName)
			if err != nil {
				return err
			}

			var priceType string
			switch side {
			case models.Buy:
				priceType = models.Ask
				if price == 0 {
					price = defaultBuyPrice
				}
			case models.Sell:
				priceType = models.Bid
				if price == 0 {
					price = defaultSellPrice
				}
			default:
				return fmt.Errorf("unknown side %q: want buy or sell", side)
			}

			offer, err := models.NewOffer(priceType, pair, price, amount, venue.Name(), venue.Fee(), time.Now())
			if err != nil {
				return err
			}
			order := models.NewOrder(offer, models.OrderTypeMarket, "")

			result := venue.Session().Place(cmd.Context(), order)
			if !result.Success {
				return fmt.Errorf("place refused by %s: %s", venue.Name(), result.Response)
			}

			logger.Infof("order placed: id=%s status=%s", result.OrderID, result.Status)
			fmt.Printf("placed: id=%s status=%s\n", result.OrderID, result.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&exchangeName, "exchange", "", "exchange name")
	cmd.Flags().StringVar(&side, "side", "", "buy or sell")
	cmd.Flags().StringVar(&pair, "pair", "", "pair in common format, e.g. ETCUSD")
	cmd.Flags().Float64Var(&amount, "amount", 0, "quote currency amount")
	cmd.Flags().Float64Var(&price, "price", 0, "order price (defaults to a market-safe extreme)")

	for _, flag := range []string{"exchange", "side", "pair", "amount"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}
