// Package script reduces locking scripts to addresses and reads block
// heights out of coinbase data. Everything here is side-effect free.
package script

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

var (
	// ErrNoAddress is returned for scripts that do not map to exactly one
	// address (OP_RETURN, bare multisig, non-standard).
	ErrNoAddress = errors.New("script has no single address")

	// ErrNoCoinbase is returned when a block has no usable coinbase input.
	ErrNoCoinbase = errors.New("block has no coinbase input")
)

// Address derives the canonical address locked by pkScript on the given
// network.
func Address(pkScript []byte, params *chaincfg.Params) (btcutil.Address, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil {
		return nil, errors.Wrap(err, "extract script addresses")
	}
	if len(addrs) != 1 {
		return nil, errors.Wrapf(ErrNoAddress, "class %s, %d addresses", class, len(addrs))
	}

	return addrs[0], nil
}

// EncodedAddress is Address followed by its string encoding.
func EncodedAddress(pkScript []byte, params *chaincfg.Params) (string, error) {
	addr, err := Address(pkScript, params)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}

// CoinbaseHeight extracts the BIP34 height embedded in the block's coinbase
// signature script. The height is read, never computed from the chain tip.
func CoinbaseHeight(block *wire.MsgBlock) (int32, error) {
	if len(block.Transactions) == 0 || len(block.Transactions[0].TxIn) == 0 {
		return 0, ErrNoCoinbase
	}

	height, err := blockchain.ExtractCoinbaseHeight(btcutil.NewTx(block.Transactions[0]))
	if err != nil {
		return 0, errors.Wrap(err, "extract coinbase height")
	}

	return height, nil
}
