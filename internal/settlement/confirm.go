package settlement

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
	"github.com/neverDefined/go-regtest-settle/internal/script"
)

// Confirmation is a settlement found in the block that confirmed it, with
// the transaction that created its input.
type Confirmation struct {
	Block     *wire.MsgBlock
	BlockHash chainhash.Hash
	Height    int32

	Tx     *wire.MsgTx
	Source *wire.MsgTx

	// Fee as reported by the paying wallet before the block was mined.
	Fee btcutil.Amount
}

// ConfirmAndLocate records the settlement fee, mines one block to minerAddr,
// finds txid in it and fetches the transaction that produced pinned.
func (s *Settler) ConfirmAndLocate(txid *chainhash.Hash, minerAddr btcutil.Address, pinned wire.OutPoint) (*Confirmation, error) {
	miner := s.opts.MinerWallet

	wtx, err := s.gw.GetTransaction(miner, txid)
	if err != nil {
		return nil, errors.Wrap(err, "settlement fee")
	}
	if !wtx.HasFee {
		return nil, errors.Wrapf(ErrFeeUnknown, "tx %s", txid)
	}

	hashes, err := s.gw.GenerateBlocks(miner, 1, minerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "mine confirmation block")
	}
	if len(hashes) == 0 {
		return nil, ErrNoBlock
	}

	block, err := s.gw.GetBlock(hashes[0])
	if err != nil {
		return nil, errors.Wrap(err, "confirmation block")
	}
	if len(block.Transactions) == 0 {
		return nil, errors.Wrapf(ErrEmptyBlock, "block %s", hashes[0])
	}

	tx := findTx(block, txid)
	if tx == nil {
		return nil, errors.Wrapf(ErrTxNotInBlock, "tx %s, block %s", txid, hashes[0])
	}

	height, err := script.CoinbaseHeight(block)
	if err != nil {
		return nil, errors.Wrapf(err, "block %s", hashes[0])
	}

	source, err := s.sourceTx(&pinned.Hash)
	if err != nil {
		return nil, err
	}

	conf := &Confirmation{
		Block:     block,
		BlockHash: block.BlockHash(),
		Height:    height,
		Tx:        tx,
		Source:    source,
		Fee:       wtx.Fee,
	}
	log.Settle.Info().Str("txid", txid.String()).Str("block", conf.BlockHash.String()).
		Int32("height", height).Str("fee", wtx.Fee.String()).Msg("settlement confirmed")

	return conf, nil
}

func findTx(block *wire.MsgBlock, txid *chainhash.Hash) *wire.MsgTx {
	for _, tx := range block.Transactions {
		if tx.TxHash() == *txid {
			return tx
		}
	}

	return nil
}

// sourceTx fetches a transaction by id. Without -txindex the node only
// serves mempool transactions, so a miss falls back to the miner wallet's
// own copy.
func (s *Settler) sourceTx(txid *chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := s.gw.GetRawTransaction(txid)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, node.ErrTxNotFound) {
		return nil, errors.Wrap(err, "source transaction")
	}

	log.Settle.Debug().Str("txid", txid.String()).Msg("raw transaction unavailable, using wallet copy")

	wtx, err := s.gw.GetTransaction(s.opts.MinerWallet, txid)
	if err != nil {
		return nil, errors.Wrap(err, "source transaction from wallet")
	}

	return decodeTx(wtx.Hex)
}

func decodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode transaction hex")
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "deserialize transaction")
	}

	return &tx, nil
}
