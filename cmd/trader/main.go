package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cryptotrader/internal/app"
	"cryptotrader/internal/config"
	"cryptotrader/pkg/utils"
)

// cmd/trader - операторский CLI арбитражного бота.
//
// execute крутит движок, остальные команды - ручные операции
// оператора: просмотр балансов, прямое размещение ордера и
// подготовка балансов бирж к арбитражу.

// Коды выхода
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Cross-exchange arbitrage trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default config.yaml)")

	root.AddCommand(
		newExecuteCmd(),
		newBalancesCmd(),
		newPlaceCmd(),
		newPrepareArbitrageCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}

// setup загружает конфигурацию и собирает приложение
func setup() (*app.App, *utils.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := utils.InitLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}
