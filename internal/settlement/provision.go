package settlement

import (
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
)

// Wallet is a wallet known to be loaded on the node.
type Wallet struct {
	Name string

	// Created is set when this call created the wallet.
	Created bool
}

// EnsureWallet loads the named wallet, creating it with default parameters
// if the node has none by that name. Any other failure is returned as is.
func (s *Settler) EnsureWallet(name string) (Wallet, error) {
	err := s.gw.LoadWallet(name)
	if err == nil {
		log.Wallet.Info().Str("wallet", name).Msg("wallet loaded")
		return Wallet{Name: name}, nil
	}
	if !errors.Is(err, node.ErrWalletNotFound) {
		return Wallet{}, errors.Wrapf(err, "ensure wallet %s", name)
	}

	if err := s.gw.CreateWallet(name); err != nil {
		return Wallet{}, errors.Wrapf(err, "ensure wallet %s", name)
	}
	log.Wallet.Info().Str("wallet", name).Msg("wallet created")

	return Wallet{Name: name, Created: true}, nil
}
