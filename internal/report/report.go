// Package report holds the attribution record of a confirmed settlement and
// writes it as a ten line text file.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/neverDefined/go-regtest-settle/internal/log"
)

// ErrNotConserved is returned by Verify when input, outputs and fee do not
// add up.
var ErrNotConserved = errors.New("amounts not conserved")

// Record attributes every input and output of a confirmed settlement to the
// wallet that owns it. Amounts are kept in satoshis until formatted.
type Record struct {
	TxID chainhash.Hash

	MinerInputAddress string
	MinerInputAmount  btcutil.Amount

	TraderAddress string
	TraderAmount  btcutil.Amount

	ChangeAddress string
	ChangeAmount  btcutil.Amount

	// Fee is as reported by the paying wallet, so normally negative.
	Fee btcutil.Amount

	BlockHeight int32
	BlockHash   chainhash.Hash
}

// Verify checks input = trader + change + |fee| to within tolerance
// satoshis.
func (r *Record) Verify(tolerance btcutil.Amount) error {
	fee := r.Fee
	if fee < 0 {
		fee = -fee
	}

	diff := r.MinerInputAmount - r.TraderAmount - r.ChangeAmount - fee
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return errors.Wrapf(ErrNotConserved, "input %d, trader %d, change %d, fee %d (sat): off by %d",
			r.MinerInputAmount, r.TraderAmount, r.ChangeAmount, fee, diff)
	}

	return nil
}

// Lines returns the report lines in file order.
func (r *Record) Lines() []string {
	return []string{
		r.TxID.String(),
		r.MinerInputAddress,
		FormatAmount(r.MinerInputAmount),
		r.TraderAddress,
		FormatAmount(r.TraderAmount),
		r.ChangeAddress,
		FormatAmount(r.ChangeAmount),
		FormatAmount(r.Fee),
		strconv.FormatInt(int64(r.BlockHeight), 10),
		r.BlockHash.String(),
	}
}

// WriteTo writes one value per line, no labels.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)

	var n int64
	for _, line := range r.Lines() {
		m, err := bw.WriteString(line + "\n")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}

	return n, bw.Flush()
}

// MarshalZerologObject lets a record be logged with Event.Object.
func (r *Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("txid", r.TxID.String()).
		Str("miner_input", r.MinerInputAddress).
		Int64("miner_input_sat", int64(r.MinerInputAmount)).
		Str("trader_output", r.TraderAddress).
		Int64("trader_output_sat", int64(r.TraderAmount)).
		Str("miner_change", r.ChangeAddress).
		Int64("miner_change_sat", int64(r.ChangeAmount)).
		Int64("fee_sat", int64(r.Fee)).
		Int32("height", r.BlockHeight).
		Str("block", r.BlockHash.String())
}

// Write creates path, truncating it, and writes the record. A failure part
// way through leaves a truncated file behind.
func Write(path string, r *Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create report %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close report %s", path)
		}
	}()

	n, err := r.WriteTo(f)
	if err != nil {
		return errors.Wrapf(err, "write report %s", path)
	}
	log.Report.Info().Str("path", path).Int64("bytes", n).Msg("report written")

	return nil
}

// FormatAmount renders a satoshi amount as decimal BTC without trailing
// zeros: 50, 29.9999859, -0.0000141.
func FormatAmount(a btcutil.Amount) string {
	sign := ""
	sat := int64(a)
	if sat < 0 {
		sign = "-"
		sat = -sat
	}

	whole := sat / btcutil.SatoshiPerBitcoin
	frac := sat % btcutil.SatoshiPerBitcoin
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}

	return strings.TrimRight(fmt.Sprintf("%s%d.%08d", sign, whole, frac), "0")
}
