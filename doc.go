/*
Package regtest runs a throwaway Bitcoin Core node in regtest mode.

It backs the settle command's --spawn flag and the end-to-end tests of the
settlement pipeline: Start launches bitcoind with the flags the pipeline
relies on, waits until it answers RPC, and Stop shuts it down and removes
any temporary data directory.

Quick Start

	rt, err := regtest.New(nil)
	if err != nil {
		return err
	}
	if err := rt.Start(); err != nil {
		return err
	}
	defer rt.Stop()

	gw, err := node.NewRPCGateway(rt.NodeConfig())
	if err != nil {
		return err
	}
	defer gw.Shutdown()

	rec, err := settlement.New(gw, settlement.DefaultOptions()).Run("out.txt")

# Node flags

Every node is started with

	-regtest -server -txindex=1 -fallbackfee=0.0002 -listen=0 -printtoconsole=0

plus -datadir, the RPC bind address and credentials from Config, then
Config.ExtraArgs. -txindex lets getrawtransaction see confirmed transactions
the wallet does not know; -fallbackfee lets the wallet fund sends before the
fee estimator has data.

# Configuration

Default settings:
  - RPC host: 127.0.0.1:18443
  - RPC user: alice
  - RPC pass: password
  - Data directory: a temporary directory, removed on Stop

Multiple instances need distinct hosts (ports) and data directories.

# Prerequisites

bitcoind must be in PATH:
  - macOS: brew install bitcoin
  - Ubuntu/Debian: sudo apt-get install bitcoind
  - Arch: sudo pacman -S bitcoin-core
*/
package regtest
