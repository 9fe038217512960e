package settlement

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/report"
	"github.com/neverDefined/go-regtest-settle/internal/script"
)

// Attribute resolves the confirmed settlement to a report record. The spent
// output is the miner's input by construction; of the settlement outputs,
// the first owned by the trader is the receipt and the first other output
// owned by the miner is the change. Ownership is always asked of the node.
func (s *Settler) Attribute(conf *Confirmation, pinnedVout uint32) (*report.Record, error) {
	params := s.gw.Params()

	if int(pinnedVout) >= len(conf.Source.TxOut) {
		return nil, errors.Wrapf(ErrOutputIndex, "vout %d of %d", pinnedVout, len(conf.Source.TxOut))
	}
	spent := conf.Source.TxOut[pinnedVout]

	inAddr, err := script.EncodedAddress(spent.PkScript, params)
	if err != nil {
		return nil, errors.Wrap(err, "miner input address")
	}

	outs := conf.Tx.TxOut
	if len(outs) < 2 {
		return nil, errors.Wrapf(ErrTooFewOutputs, "tx %s has %d", conf.Tx.TxHash(), len(outs))
	}

	traderIdx, traderAddr, err := s.firstOwned(outs, s.opts.TraderWallet, -1)
	if err != nil {
		return nil, err
	}
	if traderIdx < 0 {
		return nil, errors.Wrapf(ErrNoTraderOutput, "tx %s", conf.Tx.TxHash())
	}

	changeIdx, changeAddr, err := s.firstOwned(outs, s.opts.MinerWallet, traderIdx)
	if err != nil {
		return nil, err
	}
	if changeIdx < 0 {
		return nil, errors.Wrapf(ErrNoMinerOutput, "tx %s", conf.Tx.TxHash())
	}

	log.Settle.Debug().Int("trader_vout", traderIdx).Int("change_vout", changeIdx).Msg("outputs attributed")

	return &report.Record{
		TxID:              conf.Tx.TxHash(),
		MinerInputAddress: inAddr,
		MinerInputAmount:  btcutil.Amount(spent.Value),
		TraderAddress:     traderAddr.EncodeAddress(),
		TraderAmount:      btcutil.Amount(outs[traderIdx].Value),
		ChangeAddress:     changeAddr.EncodeAddress(),
		ChangeAmount:      btcutil.Amount(outs[changeIdx].Value),
		Fee:               conf.Fee,
		BlockHeight:       conf.Height,
		BlockHash:         conf.BlockHash,
	}, nil
}

// firstOwned returns the index and address of the first output owned by
// wallet, skipping index skip, or -1. Outputs without an address cannot be
// owned and are passed over.
func (s *Settler) firstOwned(outs []*wire.TxOut, wallet string, skip int) (int, btcutil.Address, error) {
	params := s.gw.Params()

	for i, out := range outs {
		if i == skip {
			continue
		}

		addr, err := script.Address(out.PkScript, params)
		if errors.Is(err, script.ErrNoAddress) {
			continue
		}
		if err != nil {
			return -1, nil, errors.Wrapf(err, "output %d", i)
		}

		owned, err := s.owners.owned(wallet, addr)
		if err != nil {
			return -1, nil, errors.Wrapf(err, "ownership of output %d by %s", i, wallet)
		}
		if owned {
			return i, addr, nil
		}
	}

	return -1, nil, nil
}
