package settlement

import (
	"bytes"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
)

var params = &chaincfg.RegressionNetParams

const (
	coin        = btcutil.SatoshiPerBitcoin
	blockHeight = 102
	fee         = btcutil.Amount(1410)
)

func init() {
	log.SetOutput(io.Discard, "disabled")
}

func newAddress(t *testing.T, b byte) btcutil.Address {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{b}, 20), params)
	require.NoError(t, err)
	return addr
}

func payTo(t *testing.T, addr btcutil.Address) []byte {
	t.Helper()
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return pkScript
}

// addrEq matches a btcutil.Address argument by its encoding.
func addrEq(want btcutil.Address) any {
	return mock.MatchedBy(func(a btcutil.Address) bool {
		return a != nil && a.EncodeAddress() == want.EncodeAddress()
	})
}

func coinbaseTx(t *testing.T, height int64, to btcutil.Address, value int64) *wire.MsgTx {
	t.Helper()

	sigScript, err := txscript.NewScriptBuilder().AddInt64(height).AddOp(txscript.OP_0).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(value, payTo(t, to)))
	return tx
}

// scenario is a complete, consistent settlement: a 50 BTC coinbase paid to
// the miner, a 20 BTC payment to the trader spending it with change back to
// the miner, and the block confirming the payment.
type scenario struct {
	gw   *node.MockGateway
	opts Options

	minerAddr  btcutil.Address
	traderAddr btcutil.Address
	changeAddr btcutil.Address

	source *wire.MsgTx
	utxo   node.UTXO
	tx     *wire.MsgTx
	txid   chainhash.Hash
	block  *wire.MsgBlock
	bhash  chainhash.Hash
}

func newScenario(t *testing.T) *scenario {
	t.Helper()

	sc := &scenario{
		gw:         &node.MockGateway{},
		opts:       DefaultOptions(),
		minerAddr:  newAddress(t, 0x01),
		traderAddr: newAddress(t, 0x02),
		changeAddr: newAddress(t, 0x03),
	}

	sc.source = coinbaseTx(t, 1, sc.minerAddr, 50*coin)
	sourceHash := sc.source.TxHash()
	sc.utxo = node.UTXO{
		OutPoint:      *wire.NewOutPoint(&sourceHash, 0),
		Address:       sc.minerAddr.EncodeAddress(),
		Amount:        50 * coin,
		Confirmations: 101,
		Spendable:     true,
	}

	// Change first: attribution must not depend on output order.
	sc.tx = wire.NewMsgTx(2)
	sc.tx.AddTxIn(wire.NewTxIn(&sc.utxo.OutPoint, nil, wire.TxWitness{[]byte{0x30}, []byte{0x02}}))
	sc.tx.AddTxOut(wire.NewTxOut(int64(50*coin-20*coin-fee), payTo(t, sc.changeAddr)))
	sc.tx.AddTxOut(wire.NewTxOut(20*coin, payTo(t, sc.traderAddr)))
	sc.txid = sc.tx.TxHash()

	sc.block = &wire.MsgBlock{
		Header: wire.BlockHeader{Version: 4, Timestamp: time.Unix(1700000000, 0), Bits: 0x207fffff},
		Transactions: []*wire.MsgTx{
			coinbaseTx(t, blockHeight, sc.minerAddr, 50*coin),
			sc.tx,
		},
	}
	sc.bhash = sc.block.BlockHash()

	sc.gw.On("Params").Return(params).Maybe()

	return sc
}

func (sc *scenario) settler() *Settler {
	return New(sc.gw, sc.opts)
}

func (sc *scenario) confirmation() *Confirmation {
	return &Confirmation{
		Block:     sc.block,
		BlockHash: sc.bhash,
		Height:    blockHeight,
		Tx:        sc.tx,
		Source:    sc.source,
		Fee:       -fee,
	}
}

// expectOwnership answers getaddressinfo for both wallets: the trader owns
// only its receipt address, the miner owns the change and funding address.
func (sc *scenario) expectOwnership() {
	miner, trader := sc.opts.MinerWallet, sc.opts.TraderWallet

	sc.gw.On("AddressOwnedBy", trader, addrEq(sc.traderAddr)).Return(true, nil).Maybe()
	sc.gw.On("AddressOwnedBy", trader, addrEq(sc.changeAddr)).Return(false, nil).Maybe()
	sc.gw.On("AddressOwnedBy", miner, addrEq(sc.traderAddr)).Return(false, nil).Maybe()
	sc.gw.On("AddressOwnedBy", miner, addrEq(sc.changeAddr)).Return(true, nil).Maybe()
}

// expectHappyPath registers every gateway call of a successful run.
func (sc *scenario) expectHappyPath() {
	miner, trader := sc.opts.MinerWallet, sc.opts.TraderWallet
	blockHashes := []*chainhash.Hash{&sc.bhash}

	sc.gw.On("BlockchainInfo").Return(&node.ChainInfo{Chain: "regtest", Blocks: 0}, nil)
	sc.gw.On("LoadWallet", miner).Return(nil)
	sc.gw.On("LoadWallet", trader).Return(nil)

	sc.gw.On("NewAddress", miner).Return(sc.minerAddr, nil)
	sc.gw.On("GenerateBlocks", miner, sc.opts.MaturityBlocks, addrEq(sc.minerAddr)).Return(blockHashes, nil)
	sc.gw.On("ListUnspent", miner).Return([]node.UTXO{sc.utxo}, nil)

	sc.gw.On("NewAddress", trader).Return(sc.traderAddr, nil)
	sc.gw.On("Send", miner, addrEq(sc.traderAddr), sc.opts.TransferAmount, sc.utxo.OutPoint).
		Return(&node.SendResult{Complete: true, TxID: sc.txid.String()}, nil)

	sc.gw.On("GetTransaction", miner, &sc.txid).Return(&node.WalletTx{TxID: sc.txid, Fee: -fee, HasFee: true}, nil)
	sc.gw.On("GenerateBlocks", miner, int64(1), addrEq(sc.minerAddr)).Return(blockHashes, nil)
	sc.gw.On("GetBlock", &sc.bhash).Return(sc.block, nil)
	sc.gw.On("GetRawTransaction", &sc.utxo.OutPoint.Hash).Return(sc.source, nil)

	sc.expectOwnership()
}

func serializeHex(t *testing.T, tx *wire.MsgTx) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes())
}
