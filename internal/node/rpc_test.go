package node

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	Path   string
	Method string
	Params []json.RawMessage
}

type handlerFunc func(params []json.RawMessage) (any, *btcjson.RPCError)

// fakeNode answers bitcoind style JSON-RPC requests from canned handlers.
type fakeNode struct {
	mu       sync.Mutex
	calls    []rpcCall
	handlers map[string]handlerFunc
}

func newFakeNode(t *testing.T) (*fakeNode, *RPCGateway) {
	t.Helper()

	f := &fakeNode{handlers: make(map[string]handlerFunc)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	gw, err := NewRPCGateway(Config{
		Host: strings.TrimPrefix(srv.URL, "http://"),
		User: "alice",
		Pass: "password",
	})
	require.NoError(t, err)
	t.Cleanup(gw.Shutdown)

	return f, gw
}

func (f *fakeNode) handle(method string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeNode) lastCall(method string) (rpcCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i], true
		}
	}
	return rpcCall{}, false
}

func (f *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "alice" || pass != "password" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     json.RawMessage   `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, rpcCall{Path: r.URL.Path, Method: req.Method, Params: req.Params})
	h, ok := f.handlers[req.Method]
	f.mu.Unlock()

	var (
		result any
		rpcErr *btcjson.RPCError
	)
	if ok {
		result, rpcErr = h(req.Params)
	} else {
		rpcErr = &btcjson.RPCError{Code: btcjson.ErrRPCMethodNotFound.Code, Message: "Method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	if rpcErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rpcErr, "id": req.ID})
}

func respond(v any) handlerFunc {
	return func([]json.RawMessage) (any, *btcjson.RPCError) { return v, nil }
}

func fail(code btcjson.RPCErrorCode, msg string) handlerFunc {
	return func([]json.RawMessage) (any, *btcjson.RPCError) {
		return nil, &btcjson.RPCError{Code: code, Message: msg}
	}
}

func regtestAddress(t *testing.T, b byte) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{b}, 20), &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestConfig_ConnConfig(t *testing.T) {
	cfg := Config{Host: "127.0.0.1:18443", User: "u", Pass: "p", Params: &chaincfg.RegressionNetParams}

	root := cfg.ConnConfig("")
	require.Equal(t, "127.0.0.1:18443", root.Host)
	require.Equal(t, "regtest", root.Params)
	require.True(t, root.HTTPPostMode)
	require.True(t, root.DisableTLS)

	wallet := cfg.ConnConfig("My Wallet")
	require.Equal(t, "127.0.0.1:18443/wallet/My%20Wallet", wallet.Host)
	require.Equal(t, "u", wallet.User)
}

func TestNewRPCGateway_Defaults(t *testing.T) {
	_, err := NewRPCGateway(Config{})
	require.Error(t, err)

	gw, err := NewRPCGateway(Config{Host: "127.0.0.1:1"})
	require.NoError(t, err)
	defer gw.Shutdown()
	require.Equal(t, &chaincfg.RegressionNetParams, gw.Params())
}

func TestRPCGateway_LoadWallet(t *testing.T) {
	f, gw := newFakeNode(t)

	f.handle("loadwallet", func(params []json.RawMessage) (any, *btcjson.RPCError) {
		var name string
		_ = json.Unmarshal(params[0], &name)
		switch name {
		case "Miner":
			return map[string]any{"name": "Miner", "warning": ""}, nil
		case "Trader":
			return nil, &btcjson.RPCError{Code: CodeWalletAlreadyLoaded, Message: `Wallet "Trader" is already loaded.`}
		case "Ghost":
			return nil, &btcjson.RPCError{Code: btcjson.ErrRPCWalletNotFound, Message: "Path does not exist."}
		default:
			return nil, &btcjson.RPCError{Code: btcjson.ErrRPCWallet, Message: "database corrupt"}
		}
	})

	require.NoError(t, gw.LoadWallet("Miner"))
	require.NoError(t, gw.LoadWallet("Trader"))

	err := gw.LoadWallet("Ghost")
	require.ErrorIs(t, err, ErrWalletNotFound)

	err = gw.LoadWallet("Broken")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrWalletNotFound)
	code, isRPC := RPCCode(err)
	require.True(t, isRPC)
	require.Equal(t, btcjson.ErrRPCWallet, code)

	call, found := f.lastCall("loadwallet")
	require.True(t, found)
	require.Equal(t, "/", call.Path)
}

func TestRPCGateway_CreateWallet(t *testing.T) {
	f, gw := newFakeNode(t)
	f.handle("createwallet", respond(map[string]any{"name": "Trader"}))

	require.NoError(t, gw.CreateWallet("Trader"))

	call, _ := f.lastCall("createwallet")
	require.JSONEq(t, `"Trader"`, string(call.Params[0]))
}

func TestRPCGateway_NewAddressRoutesToWallet(t *testing.T) {
	f, gw := newFakeNode(t)
	want := regtestAddress(t, 0x07)
	f.handle("getnewaddress", respond(want.EncodeAddress()))

	addr, err := gw.NewAddress("Miner")
	require.NoError(t, err)
	require.Equal(t, want.EncodeAddress(), addr.EncodeAddress())

	call, _ := f.lastCall("getnewaddress")
	require.Equal(t, "/wallet/Miner", call.Path)
}

func TestRPCGateway_GenerateBlocks(t *testing.T) {
	f, gw := newFakeNode(t)
	h1 := chainhash.DoubleHashH([]byte("one"))
	h2 := chainhash.DoubleHashH([]byte("two"))
	f.handle("generatetoaddress", respond([]string{h1.String(), h2.String()}))

	addr := regtestAddress(t, 0x01)
	hashes, err := gw.GenerateBlocks("Miner", 2, addr)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	require.Equal(t, h1, *hashes[0])
	require.Equal(t, h2, *hashes[1])

	call, _ := f.lastCall("generatetoaddress")
	require.Equal(t, "/wallet/Miner", call.Path)
	require.JSONEq(t, `2`, string(call.Params[0]))
	require.JSONEq(t, `"`+addr.EncodeAddress()+`"`, string(call.Params[1]))
}

func TestRPCGateway_ListUnspent(t *testing.T) {
	f, gw := newFakeNode(t)
	txid := chainhash.DoubleHashH([]byte("coinbase"))
	f.handle("listunspent", respond([]map[string]any{
		{"txid": txid.String(), "vout": 0, "address": "bcrt1qxyz", "amount": 50.0, "confirmations": 101, "spendable": true},
		{"txid": txid.String(), "vout": 1, "address": "bcrt1qabc", "amount": 0.00012345, "confirmations": 3, "spendable": true},
	}))

	utxos, err := gw.ListUnspent("Miner")
	require.NoError(t, err)
	require.Len(t, utxos, 2)

	require.Equal(t, txid, utxos[0].OutPoint.Hash)
	require.Equal(t, uint32(0), utxos[0].OutPoint.Index)
	require.Equal(t, btcutil.Amount(50*btcutil.SatoshiPerBitcoin), utxos[0].Amount)
	require.Equal(t, int64(101), utxos[0].Confirmations)

	require.Equal(t, uint32(1), utxos[1].OutPoint.Index)
	require.Equal(t, btcutil.Amount(12345), utxos[1].Amount)
}

func TestRPCGateway_SendPinsInput(t *testing.T) {
	f, gw := newFakeNode(t)
	txid := chainhash.DoubleHashH([]byte("settlement"))
	f.handle("send", respond(map[string]any{"complete": true, "txid": txid.String()}))

	to := regtestAddress(t, 0x02)
	in := *wire.NewOutPoint(&chainhash.Hash{0xaa}, 3)

	res, err := gw.Send("Miner", to, 20*btcutil.SatoshiPerBitcoin, in)
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, txid.String(), res.TxID)

	call, _ := f.lastCall("send")
	require.Equal(t, "/wallet/Miner", call.Path)
	require.Len(t, call.Params, 5)
	require.JSONEq(t, `[{"`+to.EncodeAddress()+`":20}]`, string(call.Params[0]))
	for _, p := range call.Params[1:4] {
		require.JSONEq(t, `null`, string(p))
	}
	require.JSONEq(t, `{"inputs":[{"txid":"`+in.Hash.String()+`","vout":3}]}`, string(call.Params[4]))
}

func TestRPCGateway_SendIncompleteIsReturned(t *testing.T) {
	f, gw := newFakeNode(t)
	f.handle("send", respond(map[string]any{"complete": false, "hex": "cafe"}))

	res, err := gw.Send("Miner", regtestAddress(t, 0x02), 1000, wire.OutPoint{})
	require.NoError(t, err)
	require.False(t, res.Complete)
	require.Equal(t, "cafe", res.Hex)
}

func TestRPCGateway_GetTransaction(t *testing.T) {
	f, gw := newFakeNode(t)
	paid := chainhash.DoubleHashH([]byte("paid"))
	received := chainhash.DoubleHashH([]byte("received"))

	f.handle("gettransaction", func(params []json.RawMessage) (any, *btcjson.RPCError) {
		var id string
		_ = json.Unmarshal(params[0], &id)
		switch id {
		case paid.String():
			return map[string]any{"txid": id, "fee": -0.0000141, "confirmations": 0, "hex": "00"}, nil
		case received.String():
			return map[string]any{"txid": id, "confirmations": 1, "blockhash": "ab"}, nil
		default:
			return nil, &btcjson.RPCError{Code: btcjson.ErrRPCNoTxInfo, Message: "Invalid or non-wallet transaction id"}
		}
	})

	tx, err := gw.GetTransaction("Miner", &paid)
	require.NoError(t, err)
	require.True(t, tx.HasFee)
	require.Equal(t, btcutil.Amount(-1410), tx.Fee)
	require.Equal(t, "00", tx.Hex)

	tx, err = gw.GetTransaction("Miner", &received)
	require.NoError(t, err)
	require.False(t, tx.HasFee)
	require.Equal(t, int64(1), tx.Confirmations)

	unknown := chainhash.DoubleHashH([]byte("unknown"))
	_, err = gw.GetTransaction("Miner", &unknown)
	require.ErrorIs(t, err, ErrTxNotFound)
}

func testTx(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x01}, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x51}))
	return tx
}

func serializeHex(t *testing.T, s interface{ Serialize(w io.Writer) error }) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, s.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes())
}

func TestRPCGateway_GetBlockAndRawTransaction(t *testing.T) {
	f, gw := newFakeNode(t)

	tx := testTx(1234)
	block := &wire.MsgBlock{
		Header:       wire.BlockHeader{Version: 4, Timestamp: time.Unix(1700000000, 0), Bits: 0x207fffff},
		Transactions: []*wire.MsgTx{tx},
	}
	blockHash := block.BlockHash()
	txid := tx.TxHash()

	f.handle("getblock", respond(serializeHex(t, block)))
	f.handle("getrawtransaction", func(params []json.RawMessage) (any, *btcjson.RPCError) {
		var id string
		_ = json.Unmarshal(params[0], &id)
		if id == txid.String() {
			return serializeHex(t, tx), nil
		}
		return nil, &btcjson.RPCError{Code: btcjson.ErrRPCNoTxInfo, Message: "No such mempool or blockchain transaction"}
	})

	gotBlock, err := gw.GetBlock(&blockHash)
	require.NoError(t, err)
	require.Equal(t, blockHash, gotBlock.BlockHash())
	require.Len(t, gotBlock.Transactions, 1)

	gotTx, err := gw.GetRawTransaction(&txid)
	require.NoError(t, err)
	require.Equal(t, txid, gotTx.TxHash())
	require.Equal(t, int64(1234), gotTx.TxOut[0].Value)

	missing := chainhash.DoubleHashH([]byte("missing"))
	_, err = gw.GetRawTransaction(&missing)
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestRPCGateway_AddressOwnedBy(t *testing.T) {
	f, gw := newFakeNode(t)
	mine := regtestAddress(t, 0x0a)

	f.handle("getaddressinfo", func(params []json.RawMessage) (any, *btcjson.RPCError) {
		var a string
		_ = json.Unmarshal(params[0], &a)
		return map[string]any{"address": a, "ismine": a == mine.EncodeAddress()}, nil
	})

	owned, err := gw.AddressOwnedBy("Trader", mine)
	require.NoError(t, err)
	require.True(t, owned)

	owned, err = gw.AddressOwnedBy("Trader", regtestAddress(t, 0x0b))
	require.NoError(t, err)
	require.False(t, owned)

	call, _ := f.lastCall("getaddressinfo")
	require.Equal(t, "/wallet/Trader", call.Path)
}

func TestRPCGateway_BlockchainInfo(t *testing.T) {
	f, gw := newFakeNode(t)
	f.handle("getblockchaininfo", respond(map[string]any{"chain": "regtest", "blocks": 202, "bestblockhash": "00ff"}))

	info, err := gw.BlockchainInfo()
	require.NoError(t, err)
	require.Equal(t, "regtest", info.Chain)
	require.Equal(t, int64(202), info.Blocks)
}

func TestRPCGateway_UnknownMethodIsRPCError(t *testing.T) {
	_, gw := newFakeNode(t)

	_, err := gw.BlockchainInfo()
	require.Error(t, err)
	code, isRPC := RPCCode(err)
	require.True(t, isRPC)
	require.Equal(t, btcjson.ErrRPCMethodNotFound.Code, code)
}

// closedPort returns a local address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

func TestReachable(t *testing.T) {
	_, gw := newFakeNode(t)

	require.NoError(t, Reachable(gw.cfg.Host))
	require.ErrorIs(t, Reachable(closedPort(t)), ErrUnreachable)
}

func TestRPCGateway_BlockchainInfoFailsFastWhenUnreachable(t *testing.T) {
	gw, err := NewRPCGateway(Config{Host: closedPort(t), User: "alice", Pass: "password"})
	require.NoError(t, err)
	defer gw.Shutdown()

	start := time.Now()
	_, err = gw.BlockchainInfo()
	require.ErrorIs(t, err, ErrUnreachable)
	require.Less(t, int64(time.Since(start)), int64(DialTimeout+time.Second))
}
