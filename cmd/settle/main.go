// Command settle runs the regtest settlement scenario once and writes the
// attribution report.
package main

import (
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	regtest "github.com/neverDefined/go-regtest-settle"
	"github.com/neverDefined/go-regtest-settle/internal/config"
	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
	"github.com/neverDefined/go-regtest-settle/internal/settlement"
)

var (
	envFile string
	outPath string
	spawn   bool
)

var rootCmd = &cobra.Command{
	Use:           "settle",
	Short:         "Settle a payment between two regtest wallets and attribute it",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		log.Init(cfg.Log.Level, cfg.Log.JSON)

		if c.Flags().Changed("out") {
			cfg.Run.OutputPath = outPath
		}

		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "load environment variables from this file")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "out.txt", "report file, overrides SETTLE_RUN_OUTPUT_PATH")
	rootCmd.Flags().BoolVar(&spawn, "spawn", false, "start a throwaway regtest bitcoind for the run")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Logger.Error().Err(err).Msg("settlement failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	params, err := config.NetParams(cfg.Node.Network)
	if err != nil {
		return err
	}

	opts, err := settlementOptions(cfg)
	if err != nil {
		return err
	}

	nodeCfg := node.Config{
		Host:   cfg.Node.Host,
		User:   cfg.Node.User,
		Pass:   cfg.Node.Pass,
		Params: params,
	}

	if spawn {
		if cfg.Node.Network != "regtest" {
			return errors.Errorf("--spawn needs network regtest, configured %s", cfg.Node.Network)
		}

		rt, err := regtest.New(&regtest.Config{
			Host: cfg.Node.Host,
			User: cfg.Node.User,
			Pass: cfg.Node.Pass,
		})
		if err != nil {
			return err
		}
		if err := rt.Start(); err != nil {
			return errors.Wrap(err, "spawn bitcoind")
		}
		defer func() {
			if err := rt.Stop(); err != nil {
				log.Regtest.Warn().Err(err).Msg("stop bitcoind")
			}
		}()

		nodeCfg = rt.NodeConfig()
	}

	gw, err := node.NewRPCGateway(nodeCfg)
	if err != nil {
		return err
	}
	defer gw.Shutdown()

	rec, err := settlement.New(gw, opts).Run(cfg.Run.OutputPath)
	if err != nil {
		return err
	}

	log.Logger.Info().Str("txid", rec.TxID.String()).Str("out", cfg.Run.OutputPath).Msg("report written")

	return nil
}

func settlementOptions(cfg *config.Config) (settlement.Options, error) {
	minAmount, err := cfg.Run.MinAmountSat()
	if err != nil {
		return settlement.Options{}, err
	}
	transfer, err := cfg.Run.TransferAmountSat()
	if err != nil {
		return settlement.Options{}, err
	}

	opts := settlement.Options{
		MinerWallet:    cfg.Run.MinerWallet,
		TraderWallet:   cfg.Run.TraderWallet,
		MaturityBlocks: cfg.Run.MaturityBlocks,
		MinAmount:      minAmount,
		TransferAmount: transfer,
		Tolerance:      btcutil.Amount(cfg.Run.Tolerance),
	}
	if cfg.Node.Network == "regtest" {
		opts.Chain = "regtest"
	}

	return opts, nil
}
