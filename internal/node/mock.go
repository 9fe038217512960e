package node

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a Gateway driven by testify/mock expectations.
type MockGateway struct {
	mock.Mock
}

var _ Gateway = (*MockGateway)(nil)

func (m *MockGateway) BlockchainInfo() (*ChainInfo, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChainInfo), args.Error(1)
}

func (m *MockGateway) LoadWallet(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockGateway) CreateWallet(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockGateway) NewAddress(wallet string) (btcutil.Address, error) {
	args := m.Called(wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(btcutil.Address), args.Error(1)
}

func (m *MockGateway) GenerateBlocks(wallet string, count int64, addr btcutil.Address) ([]*chainhash.Hash, error) {
	args := m.Called(wallet, count, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*chainhash.Hash), args.Error(1)
}

func (m *MockGateway) ListUnspent(wallet string) ([]UTXO, error) {
	args := m.Called(wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]UTXO), args.Error(1)
}

func (m *MockGateway) Send(wallet string, to btcutil.Address, amount btcutil.Amount, input wire.OutPoint) (*SendResult, error) {
	args := m.Called(wallet, to, amount, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func (m *MockGateway) GetTransaction(wallet string, txid *chainhash.Hash) (*WalletTx, error) {
	args := m.Called(wallet, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WalletTx), args.Error(1)
}

func (m *MockGateway) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	args := m.Called(hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wire.MsgBlock), args.Error(1)
}

func (m *MockGateway) GetRawTransaction(txid *chainhash.Hash) (*wire.MsgTx, error) {
	args := m.Called(txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

func (m *MockGateway) AddressOwnedBy(wallet string, addr btcutil.Address) (bool, error) {
	args := m.Called(wallet, addr)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) Params() *chaincfg.Params {
	args := m.Called()
	return args.Get(0).(*chaincfg.Params)
}
