package node

import (
	"encoding/json"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
)

// RPCGateway is a Gateway backed by bitcoind JSON-RPC over HTTP POST.
// Wallet scoped calls go to the /wallet/<name> endpoint through a client
// per wallet, created on first use.
type RPCGateway struct {
	cfg  Config
	root *rpcclient.Client

	mu      sync.Mutex
	wallets map[string]*rpcclient.Client
}

var _ Gateway = (*RPCGateway)(nil)

// NewRPCGateway creates a gateway for the node described by cfg. No request
// is sent until the first call.
func NewRPCGateway(cfg Config) (*RPCGateway, error) {
	if cfg.Host == "" {
		return nil, errors.New("node host is required")
	}
	if cfg.Params == nil {
		cfg.Params = &chaincfg.RegressionNetParams
	}

	root, err := rpcclient.New(cfg.ConnConfig(""), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create rpc client")
	}

	return &RPCGateway{
		cfg:     cfg,
		root:    root,
		wallets: make(map[string]*rpcclient.Client),
	}, nil
}

// ConnConfig returns the rpcclient configuration for the node, scoped to
// wallet when it is not empty.
func (c Config) ConnConfig(wallet string) *rpcclient.ConnConfig {
	host := c.Host
	if wallet != "" {
		host += "/wallet/" + url.PathEscape(wallet)
	}

	params := ""
	if c.Params != nil {
		params = c.Params.Name
	}

	return &rpcclient.ConnConfig{
		Host:         host,
		User:         c.User,
		Pass:         c.Pass,
		Params:       params,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
}

// Client returns the node level client for calls the gateway does not wrap.
func (g *RPCGateway) Client() *rpcclient.Client {
	return g.root
}

// Shutdown releases every client the gateway created.
func (g *RPCGateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, c := range g.wallets {
		c.Shutdown()
		delete(g.wallets, name)
	}
	g.root.Shutdown()
}

// Params returns the network used for address encoding.
func (g *RPCGateway) Params() *chaincfg.Params {
	return g.cfg.Params
}

func (g *RPCGateway) walletClient(name string) (*rpcclient.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.wallets[name]; ok {
		return c, nil
	}

	c, err := rpcclient.New(g.cfg.ConnConfig(name), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create rpc client for wallet %s", name)
	}
	g.wallets[name] = c

	return c, nil
}

// rawCall issues a method rpcclient has no typed wrapper for. Each param is
// JSON encoded as is, so nil becomes null.
func rawCall(c *rpcclient.Client, method string, result any, params ...any) error {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return errors.Wrapf(err, "marshal %s params", method)
		}
		raw = append(raw, b)
	}

	resp, err := c.RawRequest(method, raw)
	if err != nil {
		return errors.Wrap(err, method)
	}
	if result == nil {
		return nil
	}

	return errors.Wrapf(json.Unmarshal(resp, result), "decode %s result", method)
}

// DialTimeout bounds the connection attempt made by Reachable.
const DialTimeout = 2 * time.Second

// Reachable opens and closes one TCP connection to host. rpcclient retries
// transport failures internally for about twenty seconds before reporting
// them, so a dead node is detected here first.
func Reachable(host string) error {
	conn, err := net.DialTimeout("tcp", host, DialTimeout)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "%s: %v", host, err)
	}

	return conn.Close()
}

// BlockchainInfo returns the node's chain name and height. It is the first
// call of a run, so it fails fast with ErrUnreachable when nothing listens
// at the configured host.
func (g *RPCGateway) BlockchainInfo() (*ChainInfo, error) {
	if err := Reachable(g.cfg.Host); err != nil {
		return nil, err
	}

	var info ChainInfo
	if err := rawCall(g.root, "getblockchaininfo", &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// LoadWallet loads a wallet from disk. A wallet that is already loaded is
// not an error; one the node does not have is ErrWalletNotFound.
func (g *RPCGateway) LoadWallet(name string) error {
	log.Node.Debug().Str("wallet", name).Msg("loadwallet")

	err := rawCall(g.root, "loadwallet", nil, name)
	if err == nil {
		return nil
	}

	code, ok := RPCCode(err)
	switch {
	case ok && code == CodeWalletAlreadyLoaded:
		return nil
	case ok && code == btcjson.ErrRPCWalletNotFound:
		return errors.Wrapf(ErrWalletNotFound, "load wallet %s", name)
	default:
		return errors.Wrapf(err, "load wallet %s", name)
	}
}

// CreateWallet creates a wallet with the node's default parameters.
func (g *RPCGateway) CreateWallet(name string) error {
	log.Node.Debug().Str("wallet", name).Msg("createwallet")

	return errors.Wrapf(rawCall(g.root, "createwallet", nil, name), "create wallet %s", name)
}

// NewAddress returns a fresh receive address of wallet.
func (g *RPCGateway) NewAddress(wallet string) (btcutil.Address, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	addr, err := wc.GetNewAddress("")
	if err != nil {
		return nil, errors.Wrapf(err, "new address for wallet %s", wallet)
	}
	log.Node.Debug().Str("wallet", wallet).Str("address", addr.EncodeAddress()).Msg("getnewaddress")

	return addr, nil
}

// GenerateBlocks mines count blocks paying addr.
func (g *RPCGateway) GenerateBlocks(wallet string, count int64, addr btcutil.Address) ([]*chainhash.Hash, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	log.Node.Debug().Str("wallet", wallet).Int64("count", count).Msg("generatetoaddress")
	hashes, err := wc.GenerateToAddress(count, addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "generate %d blocks", count)
	}

	return hashes, nil
}

// ListUnspent returns the confirmed spendable outputs of wallet.
func (g *RPCGateway) ListUnspent(wallet string) ([]UTXO, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	results, err := wc.ListUnspent()
	if err != nil {
		return nil, errors.Wrapf(err, "list unspent for wallet %s", wallet)
	}
	log.Node.Debug().Str("wallet", wallet).Int("count", len(results)).Msg("listunspent")

	utxos := make([]UTXO, 0, len(results))
	for _, r := range results {
		hash, err := chainhash.NewHashFromStr(r.TxID)
		if err != nil {
			return nil, errors.Wrapf(err, "parse utxo txid %s", r.TxID)
		}
		amount, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "parse utxo amount %v", r.Amount)
		}

		utxos = append(utxos, UTXO{
			OutPoint:      *wire.NewOutPoint(hash, r.Vout),
			Address:       r.Address,
			Amount:        amount,
			Confirmations: r.Confirmations,
			Spendable:     r.Spendable,
		})
	}

	return utxos, nil
}

// Send pays amount to to from wallet, spending input and nothing else.
func (g *RPCGateway) Send(wallet string, to btcutil.Address, amount btcutil.Amount, input wire.OutPoint) (*SendResult, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	outputs := []map[string]float64{{to.EncodeAddress(): amount.ToBTC()}}
	options := map[string]any{
		"inputs": []map[string]any{{"txid": input.Hash.String(), "vout": input.Index}},
	}

	log.Node.Debug().Str("wallet", wallet).Str("to", to.EncodeAddress()).
		Str("input", input.String()).Int64("amount", int64(amount)).Msg("send")

	// send outputs conf_target estimate_mode fee_rate options
	var res SendResult
	if err := rawCall(wc, "send", &res, outputs, nil, nil, nil, options); err != nil {
		return nil, errors.Wrapf(err, "send from wallet %s", wallet)
	}

	return &res, nil
}

// GetTransaction returns the wallet's view of txid, including its fee.
func (g *RPCGateway) GetTransaction(wallet string, txid *chainhash.Hash) (*WalletTx, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return nil, err
	}

	var raw struct {
		TxID          string   `json:"txid"`
		Fee           *float64 `json:"fee"`
		Confirmations int64    `json:"confirmations"`
		BlockHash     string   `json:"blockhash"`
		Hex           string   `json:"hex"`
	}
	if err := rawCall(wc, "gettransaction", &raw, txid.String()); err != nil {
		if code, ok := RPCCode(err); ok && code == btcjson.ErrRPCNoTxInfo {
			return nil, errors.Wrapf(ErrTxNotFound, "wallet %s tx %s", wallet, txid)
		}
		return nil, errors.Wrapf(err, "get transaction %s", txid)
	}

	tx := &WalletTx{
		TxID:          *txid,
		Confirmations: raw.Confirmations,
		BlockHash:     raw.BlockHash,
		Hex:           raw.Hex,
	}
	if raw.Fee != nil {
		fee, err := btcutil.NewAmount(*raw.Fee)
		if err != nil {
			return nil, errors.Wrapf(err, "parse fee %v", *raw.Fee)
		}
		tx.Fee = fee
		tx.HasFee = true
	}

	return tx, nil
}

// GetBlock returns the full block.
func (g *RPCGateway) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	log.Node.Debug().Str("hash", hash.String()).Msg("getblock")

	block, err := g.root.GetBlock(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "get block %s", hash)
	}

	return block, nil
}

// GetRawTransaction returns any transaction the node indexes, or
// ErrTxNotFound.
func (g *RPCGateway) GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, error) {
	log.Node.Debug().Str("txid", txid.String()).Msg("getrawtransaction")

	tx, err := g.root.GetRawTransaction(txid)
	if err != nil {
		if code, ok := RPCCode(err); ok && code == btcjson.ErrRPCNoTxInfo {
			return nil, errors.Wrapf(ErrTxNotFound, "raw transaction %s", txid)
		}
		return nil, errors.Wrapf(err, "get raw transaction %s", txid)
	}

	return tx.MsgTx(), nil
}

// AddressOwnedBy reports whether wallet owns addr, per getaddressinfo.
func (g *RPCGateway) AddressOwnedBy(wallet string, addr btcutil.Address) (bool, error) {
	wc, err := g.walletClient(wallet)
	if err != nil {
		return false, err
	}

	var info struct {
		IsMine bool `json:"ismine"`
	}
	if err := rawCall(wc, "getaddressinfo", &info, addr.EncodeAddress()); err != nil {
		return false, errors.Wrapf(err, "address info %s", addr.EncodeAddress())
	}
	log.Node.Debug().Str("wallet", wallet).Str("address", addr.EncodeAddress()).
		Bool("mine", info.IsMine).Msg("getaddressinfo")

	return info.IsMine, nil
}
