// Package node is the gateway to a Bitcoin Core compatible node. It is the
// only authority the settlement pipeline consults for wallet state, chain
// data and address ownership.
package node

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// CodeWalletAlreadyLoaded is returned by loadwallet for a wallet that is
// already loaded. btcjson has no constant for it.
const CodeWalletAlreadyLoaded btcjson.RPCErrorCode = -35

var (
	// ErrWalletNotFound is returned by LoadWallet when the node has no
	// wallet of that name on disk.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTxNotFound is returned when the node cannot see a transaction,
	// typically getrawtransaction on a confirmed tx without -txindex.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrUnreachable is returned when nothing accepts connections at the
	// configured host.
	ErrUnreachable = errors.New("node unreachable")
)

// Config is everything needed to reach a node.
type Config struct {
	// Host is host:port of the RPC server, without scheme.
	Host string
	User string
	Pass string

	// Params selects the network used for address encoding. Defaults to
	// regtest.
	Params *chaincfg.Params
}

// ChainInfo is the subset of getblockchaininfo the pipeline uses.
type ChainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int64  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

// UTXO is one entry of listunspent.
type UTXO struct {
	OutPoint      wire.OutPoint
	Address       string
	Amount        btcutil.Amount
	Confirmations int64
	Spendable     bool
}

// SendResult is the reply of the send RPC.
type SendResult struct {
	Complete bool   `json:"complete"`
	TxID     string `json:"txid"`
	Hex      string `json:"hex,omitempty"`
}

// WalletTx is the subset of gettransaction the pipeline uses.
type WalletTx struct {
	TxID          chainhash.Hash
	Fee           btcutil.Amount
	Confirmations int64
	BlockHash     string
	Hex           string

	// HasFee is false for transactions the wallet did not pay for.
	HasFee bool
}

// Gateway is the node surface the settlement pipeline needs. All calls are
// synchronous and block until the node answers.
type Gateway interface {
	BlockchainInfo() (*ChainInfo, error)

	// LoadWallet loads an existing wallet. A wallet that is already loaded
	// is not an error; a wallet that does not exist yields
	// ErrWalletNotFound.
	LoadWallet(name string) error
	CreateWallet(name string) error

	NewAddress(wallet string) (btcutil.Address, error)
	GenerateBlocks(wallet string, count int64, addr btcutil.Address) ([]*chainhash.Hash, error)
	ListUnspent(wallet string) ([]UTXO, error)

	// Send pays amount to a single recipient, spending exactly input. Fee
	// rate and confirmation target are left to the node.
	Send(wallet string, to btcutil.Address, amount btcutil.Amount, input wire.OutPoint) (*SendResult, error)
	GetTransaction(wallet string, txid *chainhash.Hash) (*WalletTx, error)

	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, error)

	AddressOwnedBy(wallet string, addr btcutil.Address) (bool, error)

	Params() *chaincfg.Params
}

// RPCCode returns the Bitcoin Core error code carried by err, if any.
func RPCCode(err error) (btcjson.RPCErrorCode, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code, true
	}

	return 0, false
}
