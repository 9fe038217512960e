package settlement

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
)

// Settle pays amount from wallet from to address to, spending exactly the
// pinned input. The node picks fee rate and confirmation target. A send
// that still needs signatures is a failure.
func (s *Settler) Settle(from string, to btcutil.Address, amount btcutil.Amount, pinned wire.OutPoint) (string, error) {
	res, err := s.gw.Send(from, to, amount, pinned)
	if err != nil {
		return "", errors.Wrap(err, "settle")
	}
	if !res.Complete {
		return "", errors.Wrapf(ErrSendIncomplete, "input %s", pinned)
	}
	if res.TxID == "" {
		return "", errors.Wrap(ErrSendIncomplete, "node returned no txid")
	}

	log.Settle.Info().Str("txid", res.TxID).Str("to", to.EncodeAddress()).
		Str("amount", amount.String()).Str("input", pinned.String()).Msg("settlement sent")

	return res.TxID, nil
}
