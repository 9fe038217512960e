// Package settlement runs the regtest settlement scenario: provision a Miner
// and a Trader wallet, fund the Miner by mining, pay the Trader from one
// pinned input, confirm it, and attribute every input and output of the
// confirmed transaction to the wallet that owns it.
package settlement

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
	"github.com/neverDefined/go-regtest-settle/internal/report"
)

var (
	// ErrWrongChain is returned when the node reports a chain other than
	// Options.Chain.
	ErrWrongChain = errors.New("node is on an unexpected chain")

	// ErrNoQualifyingUTXO means no miner output exceeds the minimum amount.
	ErrNoQualifyingUTXO = errors.New("no unspent output above the minimum amount")

	// ErrSendIncomplete means the wallet did not sign and broadcast the send.
	ErrSendIncomplete = errors.New("send did not complete")

	// ErrFeeUnknown means gettransaction carried no fee for the settlement.
	ErrFeeUnknown = errors.New("wallet reported no fee for the settlement")

	// ErrNoBlock means generatetoaddress returned no block hash.
	ErrNoBlock = errors.New("node mined no block")

	// ErrEmptyBlock means the mined block has no transactions at all.
	ErrEmptyBlock = errors.New("mined block has no transactions")

	// ErrTxNotInBlock means the settlement was not included in the next block.
	ErrTxNotInBlock = errors.New("settlement transaction not in mined block")

	// ErrOutputIndex means the pinned vout does not exist in its source tx.
	ErrOutputIndex = errors.New("pinned output index out of range")

	// ErrTooFewOutputs means the settlement lacks a receipt or change output.
	ErrTooFewOutputs = errors.New("settlement has fewer than two outputs")

	// ErrNoTraderOutput means no output is owned by the trader wallet.
	ErrNoTraderOutput = errors.New("no output owned by the trader wallet")

	// ErrNoMinerOutput means no output other than the receipt is owned by
	// the miner wallet.
	ErrNoMinerOutput = errors.New("no output owned by the miner wallet")
)

// Options are the scenario parameters.
type Options struct {
	MinerWallet  string
	TraderWallet string

	// MaturityBlocks are mined to the miner before selecting an input.
	// Coinbase outputs need 100 confirmations, so 101 makes the first one
	// spendable.
	MaturityBlocks int64

	MinAmount      btcutil.Amount
	TransferAmount btcutil.Amount

	// Tolerance is the allowed conservation mismatch.
	Tolerance btcutil.Amount

	// Chain, when set, must match the chain reported by the node.
	Chain string
}

// DefaultOptions returns the standard scenario: 101 blocks, 20 BTC threshold
// and transfer, exact conservation, regtest only.
func DefaultOptions() Options {
	return Options{
		MinerWallet:    "Miner",
		TraderWallet:   "Trader",
		MaturityBlocks: 101,
		MinAmount:      20 * btcutil.SatoshiPerBitcoin,
		TransferAmount: 20 * btcutil.SatoshiPerBitcoin,
		Chain:          "regtest",
	}
}

// Settler drives one or more settlement runs against a node. It is not safe
// for concurrent use.
type Settler struct {
	gw     node.Gateway
	opts   Options
	owners *ownershipCache
}

// New returns a Settler using gw for every node interaction.
func New(gw node.Gateway, opts Options) *Settler {
	return &Settler{
		gw:     gw,
		opts:   opts,
		owners: newOwnershipCache(gw),
	}
}

// Run executes the whole scenario and writes the report to outPath. No file
// is created unless every stage, including the conservation check,
// succeeded.
func (s *Settler) Run(outPath string) (*report.Record, error) {
	// Ownership answers are only trusted within a run.
	defer s.owners.reset()

	if err := s.checkChain(); err != nil {
		return nil, err
	}

	for _, name := range []string{s.opts.MinerWallet, s.opts.TraderWallet} {
		if _, err := s.EnsureWallet(name); err != nil {
			return nil, err
		}
	}

	utxo, minerAddr, err := s.FundAndSelect(s.opts.MinAmount)
	if err != nil {
		return nil, err
	}

	traderAddr, err := s.gw.NewAddress(s.opts.TraderWallet)
	if err != nil {
		return nil, errors.Wrap(err, "trader address")
	}

	txidStr, err := s.Settle(s.opts.MinerWallet, traderAddr, s.opts.TransferAmount, utxo.OutPoint)
	if err != nil {
		return nil, err
	}

	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse settlement txid %q", txidStr)
	}

	conf, err := s.ConfirmAndLocate(txid, minerAddr, utxo.OutPoint)
	if err != nil {
		return nil, err
	}

	rec, err := s.Attribute(conf, utxo.OutPoint.Index)
	if err != nil {
		return nil, err
	}

	if err := rec.Verify(s.opts.Tolerance); err != nil {
		return rec, err
	}

	if err := report.Write(outPath, rec); err != nil {
		return rec, err
	}

	log.Settle.Info().Object("record", rec).Msg("settlement attributed")

	return rec, nil
}

func (s *Settler) checkChain() error {
	info, err := s.gw.BlockchainInfo()
	if err != nil {
		return errors.Wrap(err, "blockchain info")
	}
	log.Settle.Info().Str("chain", info.Chain).Int64("blocks", info.Blocks).Msg("connected to node")

	if s.opts.Chain != "" && info.Chain != s.opts.Chain {
		return errors.Wrapf(ErrWrongChain, "want %s, node reports %s", s.opts.Chain, info.Chain)
	}

	return nil
}
