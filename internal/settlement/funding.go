package settlement

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
)

// FundAndSelect mines MaturityBlocks to a fresh miner address and picks the
// first unspent output worth strictly more than minAmount. The returned address
// is where the block rewards went.
func (s *Settler) FundAndSelect(minAmount btcutil.Amount) (node.UTXO, btcutil.Address, error) {
	miner := s.opts.MinerWallet

	addr, err := s.gw.NewAddress(miner)
	if err != nil {
		return node.UTXO{}, nil, errors.Wrap(err, "miner address")
	}

	hashes, err := s.gw.GenerateBlocks(miner, s.opts.MaturityBlocks, addr)
	if err != nil {
		return node.UTXO{}, nil, errors.Wrap(err, "mine funding blocks")
	}
	log.Settle.Info().Str("address", addr.EncodeAddress()).Int("blocks", len(hashes)).Msg("miner funded")

	utxos, err := s.gw.ListUnspent(miner)
	if err != nil {
		return node.UTXO{}, nil, errors.Wrap(err, "list miner utxos")
	}

	utxo, err := SelectUTXO(utxos, minAmount)
	if err != nil {
		return node.UTXO{}, nil, err
	}
	log.Settle.Info().Str("outpoint", utxo.OutPoint.String()).
		Str("amount", utxo.Amount.String()).Msg("funding input selected")

	return utxo, addr, nil
}

// SelectUTXO returns the first output whose amount strictly exceeds minAmount.
func SelectUTXO(utxos []node.UTXO, minAmount btcutil.Amount) (node.UTXO, error) {
	for _, u := range utxos {
		if u.Amount > minAmount {
			return u, nil
		}
	}

	return node.UTXO{}, errors.Wrapf(ErrNoQualifyingUTXO, "%d utxos, none above %s", len(utxos), minAmount)
}
