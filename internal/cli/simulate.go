package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"oracle-feeder/internal/app"
)

var (
	simulateMarket    string
	simulateFX        []string
	simulateWhitelist []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次价格聚合与承诺计算，不提交交易",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{Whitelist: simulateWhitelist}

		if simulateMarket != "" {
			market, err := decimal.NewFromString(simulateMarket)
			if err != nil || !market.IsPositive() {
				return fmt.Errorf("--market 必须为正数: %q", simulateMarket)
			}
			opts.Market = market
		}

		if len(simulateFX) > 0 {
			opts.FX = make(map[string]decimal.Decimal, len(simulateFX))
			for _, pair := range simulateFX {
				symbol, raw, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--fx 格式应为 SYMBOL=RATE: %q", pair)
				}
				rate, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("--fx %s: %w", symbol, err)
				}
				opts.FX[symbol] = rate
			}
		}

		a := getApp()
		res, err := a.Simulate(cmd.Context(), opts)
		if err != nil {
			return err
		}
		a.PrintSimulation(res)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "", "静态市场价 (USD)，留空则使用实时数据源")
	simulateCmd.Flags().StringSliceVar(&simulateFX, "fx", nil, "静态汇率 SYMBOL=RATE，可重复")
	simulateCmd.Flags().StringSliceVar(&simulateWhitelist, "whitelist", nil, "白名单 denom，留空则从链上读取")
}
