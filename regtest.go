package regtest

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/neverDefined/go-regtest-settle/internal/log"
	"github.com/neverDefined/go-regtest-settle/internal/node"
)

// ---------------------------------------------------------------
//  Configuration
// ---------------------------------------------------------------

var (
	// ErrNotRunning is returned by calls that need a started node.
	ErrNotRunning = errors.New("bitcoind is not running")

	// ErrExited is returned when bitcoind terminates before it answers RPC.
	ErrExited = errors.New("bitcoind exited before becoming ready")
)

const (
	// ReadyTimeout bounds how long Start waits for the first RPC answer.
	ReadyTimeout = 30 * time.Second

	// StopTimeout bounds how long Stop waits for bitcoind to exit after the
	// stop RPC before killing it.
	StopTimeout = 15 * time.Second
)

// BaseArgs are passed to every bitcoind this package starts. -txindex lets
// getrawtransaction find confirmed transactions outside the wallet.
var BaseArgs = []string{
	"-regtest",
	"-server",
	"-txindex=1",
	"-fallbackfee=0.0002",
	"-listen=0",
	"-printtoconsole=0",
}

// Config describes a regtest node to run.
type Config struct {
	// Host is the RPC bind address, host:port.
	Host string

	User string
	Pass string

	// DataDir is the bitcoind data directory. When empty a temporary
	// directory is created on Start and removed on Stop.
	DataDir string

	// ExtraArgs are appended after BaseArgs.
	ExtraArgs []string

	// Binary is the bitcoind executable, looked up in PATH.
	Binary string
}

// DefaultConfig returns the configuration used when New is given nil. The
// credentials match the settlement defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1:18443",
		User:   "alice",
		Pass:   "password",
		Binary: "bitcoind",
	}
}

// ---------------------------------------------------------------
//  Bitcoin Core Node Management
// ---------------------------------------------------------------

// Regtest manages one bitcoind regtest process. All methods are safe for
// concurrent use.
type Regtest struct {
	mu  sync.Mutex
	cfg Config

	cmd     *exec.Cmd
	exited  chan struct{}
	client  *rpcclient.Client
	tempDir bool
}

// New validates cfg and returns an unstarted node. A nil cfg means
// DefaultConfig.
func New(cfg *Config) (*Regtest, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := *cfg
	c.ExtraArgs = append([]string(nil), cfg.ExtraArgs...)
	if c.Binary == "" {
		c.Binary = "bitcoind"
	}

	if _, _, err := net.SplitHostPort(c.Host); err != nil {
		return nil, errors.Wrapf(err, "invalid rpc host %q", c.Host)
	}
	if c.User == "" || c.Pass == "" {
		return nil, errors.New("rpc user and password are required")
	}

	return &Regtest{cfg: c}, nil
}

// Config returns a copy of the node configuration.
func (r *Regtest) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cfg
	c.ExtraArgs = append([]string(nil), r.cfg.ExtraArgs...)
	return c
}

// NodeConfig returns the gateway configuration for this node.
func (r *Regtest) NodeConfig() node.Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.nodeConfig()
}

func (r *Regtest) nodeConfig() node.Config {
	return node.Config{
		Host:   r.cfg.Host,
		User:   r.cfg.User,
		Pass:   r.cfg.Pass,
		Params: &chaincfg.RegressionNetParams,
	}
}

// args builds the bitcoind command line for dataDir.
func (r *Regtest) args(dataDir string) ([]string, error) {
	host, port, err := net.SplitHostPort(r.cfg.Host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid rpc host %q", r.cfg.Host)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, errors.Wrapf(err, "invalid rpc port %q", port)
	}

	args := append([]string(nil), BaseArgs...)
	args = append(args,
		"-datadir="+dataDir,
		"-rpcbind="+host,
		"-rpcallowip="+host,
		"-rpcport="+port,
		"-rpcuser="+r.cfg.User,
		"-rpcpassword="+r.cfg.Pass,
	)

	return append(args, r.cfg.ExtraArgs...), nil
}

// Start launches bitcoind and blocks until it answers RPC or ReadyTimeout
// passes. Starting a running node is a no-op.
func (r *Regtest) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running() {
		return nil
	}
	if r.cmd != nil {
		// Exited on its own since the last Start.
		if err := r.stop(); err != nil {
			log.Regtest.Warn().Err(err).Msg("cleanup after bitcoind exit")
		}
	}

	bin, err := exec.LookPath(r.cfg.Binary)
	if err != nil {
		return errors.Wrapf(err, "find %s", r.cfg.Binary)
	}

	dataDir := r.cfg.DataDir
	tempDir := false
	if dataDir == "" {
		if dataDir, err = os.MkdirTemp("", "regtest-settle-"); err != nil {
			return errors.Wrap(err, "create data directory")
		}
		tempDir = true
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.Wrapf(err, "create data directory %s", dataDir)
	}

	args, err := r.args(dataDir)
	if err != nil {
		return err
	}

	client, err := rpcclient.New(r.nodeConfig().ConnConfig(""), nil)
	if err != nil {
		return errors.Wrap(err, "create rpc client")
	}

	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		client.Shutdown()
		return errors.Wrapf(err, "start %s", bin)
	}

	r.cmd = cmd
	r.client = client
	r.exited = make(chan struct{})
	if tempDir {
		r.cfg.DataDir = dataDir
		r.tempDir = true
	}

	go func(exited chan struct{}) {
		defer close(exited)
		if err := cmd.Wait(); err != nil {
			log.Regtest.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("bitcoind exited")
		}
	}(r.exited)

	log.Regtest.Info().Str("host", r.cfg.Host).Str("datadir", dataDir).Int("pid", cmd.Process.Pid).Msg("bitcoind started")

	if err := r.waitReady(); err != nil {
		if stopErr := r.stop(); stopErr != nil {
			log.Regtest.Warn().Err(stopErr).Msg("cleanup after failed start")
		}
		return err
	}

	return nil
}

// waitReady polls getblockcount with exponential backoff until it answers,
// the process exits or ReadyTimeout passes. The port is dialed first so
// rpcclient's own transport retries never delay noticing an exit.
func (r *Regtest) waitReady() error {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
	}
	start := time.Now()
	deadline := start.Add(ReadyTimeout)

	for {
		var height int64
		err := node.Reachable(r.cfg.Host)
		if err == nil {
			height, err = r.client.GetBlockCount()
		}
		if err == nil {
			log.Regtest.Info().Int64("height", height).Dur("after", time.Since(start)).Msg("bitcoind ready")
			return nil
		}

		if time.Now().After(deadline) {
			return errors.Wrapf(err, "bitcoind not ready after %s", ReadyTimeout)
		}

		wait := b.Duration()
		log.Regtest.Debug().Err(err).Dur("retry_in", wait).Msg("waiting for rpc")

		select {
		case <-r.exited:
			return ErrExited
		case <-time.After(wait):
		}
	}
}

// Stop asks bitcoind to shut down, waits for it to exit and removes a
// temporary data directory. Stopping a stopped node is a no-op.
func (r *Regtest) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return nil
	}

	return r.stop()
}

func (r *Regtest) stop() error {
	var stopErr error

	if r.running() {
		err := node.Reachable(r.cfg.Host)
		if err == nil {
			_, err = r.client.RawRequest("stop", nil)
		}
		if err != nil {
			log.Regtest.Warn().Err(err).Msg("stop rpc failed, killing bitcoind")
			stopErr = r.cmd.Process.Kill()
		}

		select {
		case <-r.exited:
		case <-time.After(StopTimeout):
			log.Regtest.Warn().Dur("timeout", StopTimeout).Msg("bitcoind did not exit, killing")
			stopErr = r.cmd.Process.Kill()
			<-r.exited
		}
	}

	r.client.Shutdown()

	if r.tempDir {
		if err := os.RemoveAll(r.cfg.DataDir); err != nil && stopErr == nil {
			stopErr = errors.Wrapf(err, "remove data directory %s", r.cfg.DataDir)
		}
		r.cfg.DataDir = ""
		r.tempDir = false
	}

	log.Regtest.Info().Int("pid", r.cmd.Process.Pid).Msg("bitcoind stopped")

	r.cmd = nil
	r.client = nil

	return stopErr
}

// running reports whether the process is still alive. Callers hold mu.
func (r *Regtest) running() bool {
	if r.cmd == nil {
		return false
	}

	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// IsRunning reports whether the bitcoind process started by Start is alive.
func (r *Regtest) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running()
}

// HealthCheck fails unless the node answers getblockcount.
func (r *Regtest) HealthCheck() error {
	client := r.Client()
	if client == nil {
		return ErrNotRunning
	}

	if _, err := client.GetBlockCount(); err != nil {
		return errors.Wrap(err, "health check")
	}

	return nil
}

// Client returns the node level RPC client, or nil when the node is not
// started.
func (r *Regtest) Client() *rpcclient.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running() {
		return nil
	}
	return r.client
}
