package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/pkg/utils"
)

// newPrepareArbitrageCmd выравнивает балансы бирж перед запуском:
// сначала избыток криптовалюты продаётся в деньги до уровня max,
// затем каждая валюта докупается до min в денежном эквиваленте.
// Биржи обрабатываются последовательно, фаза за фазой.
func newPrepareArbitrageCmd() *cobra.Command {
	var minSum, maxSum float64

	cmd := &cobra.Command{
		Use:   "prepare_arbitrage",
		Short: "Rebalance exchanges: consolidate to money, then buy back working amounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if minSum > maxSum {
				return fmt.Errorf("--min (%v) must not exceed --max (%v)", minSum, maxSum)
			}

			a, logger, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			for _, venue := range a.Exchanges().All() {
				if err := venue.FetchBalances(ctx); err != nil {
					return fmt.Errorf("fetch balances %s: %w", venue.Name(), err)
				}

				if err := consolidate(ctx, venue, maxSum, logger); err != nil {
					return err
				}
				if err := buyBack(ctx, venue, minSum, logger); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&minSum, "min", 0, "target money-equivalent of each quote currency")
	cmd.Flags().Float64Var(&maxSum, "max", 0, "money balance to consolidate up to")
	_ = cmd.MarkFlagRequired("min")
	_ = cmd.MarkFlagRequired("max")
	return cmd
}

// consolidate продаёт криптовалюту, пока денежный баланс биржи
// не достигнет maxSum. Продажи ниже лимита пары пропускаются.
func consolidate(ctx context.Context, venue *exchange.Exchange, maxSum float64, logger *utils.Logger) error {
	for _, pair := range venue.DefaultPairs() {
		money := venue.Balance(pair.Base)
		if money >= maxSum {
			return nil
		}

		data, err := venue.GetFreshPair(ctx, pair)
		if err != nil {
			logger.Warnf("prepare %s: %v", venue.Name(), err)
			continue
		}
		if data.Bid <= 0 {
			continue
		}

		amount := utils.Min(venue.Balance(pair.Quote), (maxSum-money)/data.Bid)
		if amount < venue.PairLimit(pair) {
			continue
		}

		if err := placeRebalanceOrder(ctx, venue, models.Bid, pair, data.Bid, amount, logger); err != nil {
			return err
		}
	}
	return nil
}

// buyBack докупает каждую криптовалюту до minSum в денежном
// эквиваленте, не тратя больше доступных денег
func buyBack(ctx context.Context, venue *exchange.Exchange, minSum float64, logger *utils.Logger) error {
	for _, pair := range venue.DefaultPairs() {
		data, err := venue.GetFreshPair(ctx, pair)
		if err != nil {
			logger.Warnf("prepare %s: %v", venue.Name(), err)
			continue
		}
		if data.Ask <= 0 {
			continue
		}

		held := venue.Balance(pair.Quote) * data.Ask
		if held >= minSum {
			continue
		}

		spend := utils.Min(minSum-held, venue.Balance(pair.Base))
		amount := spend / data.Ask
		if amount < venue.PairLimit(pair) {
			continue
		}

		if err := placeRebalanceOrder(ctx, venue, models.Ask, pair, data.Ask, amount, logger); err != nil {
			return err
		}
	}
	return nil
}

// placeRebalanceOrder размещает market-ордер и обновляет балансы
func placeRebalanceOrder(
	ctx context.Context,
	venue *exchange.Exchange,
	priceType string,
	pair models.PairName,
	price, amount float64,
	logger *utils.Logger,
) error {
	offer, err := models.NewOffer(priceType, pair.Common(), price, amount, venue.Name(), venue.Fee(), time.Now())
	if err != nil {
		return err
	}
	order := models.NewOrder(offer, models.OrderTypeMarket, "")

	result := venue.Place(ctx, order)
	if !result.Success {
		return fmt.Errorf("rebalance order refused by %s: %s", venue.Name(), result.Response)
	}
	logger.Infof("rebalance order placed on %s: %s", venue.Name(), order)

	return venue.FetchBalances(ctx)
}
