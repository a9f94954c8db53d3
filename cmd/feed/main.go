package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/bitstamp-trading/internal/feed"
	"github.com/rxtech-lab/bitstamp-trading/internal/logger"
	tradingprovider "github.com/rxtech-lab/bitstamp-trading/internal/trading/provider"
	"github.com/rxtech-lab/bitstamp-trading/internal/types"
)

// cliConfig is the YAML configuration file consumed by the trading commands.
type cliConfig struct {
	Trading tradingprovider.BitstampProviderConfig `yaml:"trading"`
}

func loadConfig(path string) (*cliConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config cliConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Trading.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func newProvider(cmd *cli.Command) (tradingprovider.TradingProvider, error) {
	config, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	return tradingprovider.NewBitstampTradingProvider(config.Trading)
}

// streamAction connects to the realtime feed and prints trades and order book
// tops until interrupted.
func streamAction(ctx context.Context, cmd *cli.Command) error {
	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	client, err := feed.NewClient(feed.Config{
		URL:                cmd.String("url"),
		EnableReconnection: !cmd.Bool("disable-reconnection"),
	}, appLogger)
	if err != nil {
		return err
	}

	client.TradeNotifier().Subscribe(func(trade types.Trade) {
		fmt.Printf("trade  id=%d price=%.2f amount=%.8f\n", trade.ID, trade.Price, trade.Amount)
	})
	client.OrderBookUpdateNotifier().Subscribe(func(update types.OrderBookUpdate) {
		if len(update.Bids) == 0 || len(update.Asks) == 0 {
			return
		}

		fmt.Printf("book   bid=%.2f ask=%.2f\n", update.Bids[0].Price, update.Asks[0].Price)
	})

	if err := client.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		client.Stop()
	}()

	for !client.Eof() {
		client.Dispatch()
	}

	client.Join()

	return nil
}

// balanceAction prints the available account funds.
func balanceAction(ctx context.Context, cmd *cli.Command) error {
	provider, err := newProvider(cmd)
	if err != nil {
		return err
	}

	balance, err := provider.GetAccountBalance(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("USD available: %.2f\n", balance.USDAvailable)
	fmt.Printf("BTC available: %.8f\n", balance.BTCAvailable)

	return nil
}

// openOrdersAction prints the open limit orders on the account.
func openOrdersAction(ctx context.Context, cmd *cli.Command) error {
	provider, err := newProvider(cmd)
	if err != nil {
		return err
	}

	orders, err := provider.GetOpenOrders(ctx)
	if err != nil {
		return err
	}

	if len(orders) == 0 {
		fmt.Println("No open orders.")
		return nil
	}

	for _, order := range orders {
		fmt.Printf("%d  %s  %s  price=%.2f amount=%.8f\n",
			order.ID, order.DateTime.Format("2006-01-02 15:04:05"), order.Side, order.Price, order.Amount)
	}

	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file with trading credentials",
		Value:   "config.yaml",
	}

	cmd := &cli.Command{
		Name:  "feed",
		Usage: "Bitstamp realtime feed and trading CLI",
		Commands: []*cli.Command{
			{
				Name:  "stream",
				Usage: "Stream live trades and order book updates",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Usage: "Websocket endpoint to connect to",
						Value: feed.DefaultFeedURL,
					},
					&cli.BoolFlag{
						Name:  "disable-reconnection",
						Usage: "Stop instead of reconnecting after a connection loss",
					},
				},
				Action: streamAction,
			},
			{
				Name:   "balance",
				Usage:  "Show the available account funds",
				Flags:  []cli.Flag{configFlag},
				Action: balanceAction,
			},
			{
				Name:   "open-orders",
				Usage:  "List open limit orders",
				Flags:  []cli.Flag{configFlag},
				Action: openOrdersAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
