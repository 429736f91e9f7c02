// Package network assembles the five simulator nodes from configuration.
package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/axel-blaze-11/pheonix/internal/bank"
	"github.com/axel-blaze-11/pheonix/internal/config"
	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/ledger"
	"github.com/axel-blaze-11/pheonix/internal/monitor"
	"github.com/axel-blaze-11/pheonix/internal/psp"
	"github.com/axel-blaze-11/pheonix/internal/router"
	"github.com/axel-blaze-11/pheonix/internal/validation"
	"github.com/axel-blaze-11/pheonix/internal/web"
)

// Registry maps every node to its configured base URL.
func Registry(cfg *config.Config) downstream.Registry {
	return downstream.Registry{
		downstream.NodeSwitch:   cfg.Switch.URL,
		downstream.NodeRemBank:  cfg.Bank.Remitter.URL,
		downstream.NodeBeneBank: cfg.Bank.Beneficiary.URL,
		downstream.NodePayerPSP: cfg.PSP.Payer.URL,
		downstream.NodePayeePSP: cfg.PSP.Payee.URL,
	}
}

// NewClient creates the inter-node client with the configured timeouts.
func NewClient(cfg *config.Config) (*downstream.Client, error) {
	initial, forward, err := cfg.Timeouts.Durations()
	if err != nil {
		return nil, err
	}
	return downstream.NewClient(Registry(cfg), downstream.WithTimeouts(downstream.Timeouts{
		Initial: initial,
		Forward: forward,
	})), nil
}

// Switch is the routing node and the state it owns.
type Switch struct {
	Router *router.Router
	Store  *correlation.Store
	Server *web.Server
}

// NewSwitch builds the Switch.
func NewSwitch(cfg *config.Config, client *downstream.Client) (*Switch, error) {
	minAmount, err := config.ParseAmount(cfg.Switch.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid switch.min_amount: %w", err)
	}
	probeAmount, err := config.ParseAmount(cfg.Switch.ProbeAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid switch.probe_amount: %w", err)
	}

	gate := validation.NewGate(validation.Policy{
		MinAmount:    minAmount,
		PurposeCodes: cfg.Switch.PurposeCodes,
	})
	store := correlation.NewStore()
	r := router.New(gate, client, store, router.Config{ProbeAmount: probeAmount})

	return &Switch{Router: r, Store: store, Server: web.NewServer(r)}, nil
}

// OpenBank opens a bank's ledger and builds the node. The ledger is
// returned so the caller can close it.
func OpenBank(ctx context.Context, role bank.Role, bc config.BankConfig, seed bool, client *downstream.Client) (*bank.Bank, *ledger.Ledger, error) {
	minAmount, err := config.ParseAmount(bc.MinAmount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s min_amount: %w", role, err)
	}

	l, err := ledger.Open(bc.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s ledger: %w", role, err)
	}

	if seed {
		accounts := ledger.SamplePayers
		if role == bank.RoleBeneficiary {
			accounts = ledger.SamplePayees
		}
		if err := l.Seed(ctx, accounts); err != nil {
			l.Close()
			return nil, nil, fmt.Errorf("failed to seed %s ledger: %w", role, err)
		}
	}

	b := bank.New(bank.Config{
		Role:        role,
		OrgID:       bc.OrgID,
		MinAmount:   minAmount,
		BlockedCode: bc.BlockedCode,
	}, l, client)
	return b, l, nil
}

// OpenPayerPSP opens the payer directory and builds the Payer PSP.
func OpenPayerPSP(ctx context.Context, pc config.PSPConfig, seed bool, client *downstream.Client) (*psp.Payer, *ledger.Directory, error) {
	minAmount, err := config.ParseAmount(pc.MinAmount)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid psp.payer.min_amount: %w", err)
	}

	d, err := ledger.OpenDirectory(pc.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open payer PSP directory: %w", err)
	}
	if seed {
		if err := d.SeedUsers(ctx, ledger.SamplePayers, ledger.SamplePIN); err != nil {
			d.Close()
			return nil, nil, fmt.Errorf("failed to seed payer PSP users: %w", err)
		}
	}

	p := psp.NewPayer(psp.PayerConfig{MinAmount: minAmount, BlockedCode: pc.BlockedCode}, d, client)
	return p, d, nil
}

// OpenPayeePSP opens the payee directory and builds the Payee PSP.
func OpenPayeePSP(ctx context.Context, pc config.PSPConfig, seed bool) (*psp.Payee, *ledger.Directory, error) {
	d, err := ledger.OpenDirectory(pc.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open payee PSP directory: %w", err)
	}
	if seed {
		if err := d.SeedProfiles(ctx, ledger.SamplePayees); err != nil {
			d.Close()
			return nil, nil, fmt.Errorf("failed to seed payee PSP profiles: %w", err)
		}
	}

	p := psp.NewPayee(psp.PayeeConfig{OrgID: pc.OrgID, BlockedCode: pc.BlockedCode}, d)
	return p, d, nil
}

// Network is all five nodes in one process.
type Network struct {
	Client   *downstream.Client
	Switch   *Switch
	RemBank  *bank.Bank
	BeneBank *bank.Bank
	Payer    *psp.Payer
	Payee    *psp.Payee

	RemLedger  *ledger.Ledger
	BeneLedger *ledger.Ledger

	closers []func() error
}

// Open builds every node. Close releases the databases.
func Open(ctx context.Context, cfg *config.Config) (*Network, error) {
	n := &Network{}
	if err := n.open(ctx, cfg); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *Network) open(ctx context.Context, cfg *config.Config) error {
	var err error
	if n.Client, err = NewClient(cfg); err != nil {
		return err
	}
	if n.Switch, err = NewSwitch(cfg, n.Client); err != nil {
		return err
	}

	rem, remLedger, err := OpenBank(ctx, bank.RoleRemitter, cfg.Bank.Remitter, cfg.Seed, n.Client)
	if err != nil {
		return err
	}
	n.RemBank, n.RemLedger = rem, remLedger
	n.closers = append(n.closers, remLedger.Close)

	bene, beneLedger, err := OpenBank(ctx, bank.RoleBeneficiary, cfg.Bank.Beneficiary, cfg.Seed, n.Client)
	if err != nil {
		return err
	}
	n.BeneBank, n.BeneLedger = bene, beneLedger
	n.closers = append(n.closers, beneLedger.Close)

	payer, payerDir, err := OpenPayerPSP(ctx, cfg.PSP.Payer, cfg.Seed, n.Client)
	if err != nil {
		return err
	}
	n.Payer = payer
	n.closers = append(n.closers, payerDir.Close)

	payee, payeeDir, err := OpenPayeePSP(ctx, cfg.PSP.Payee, cfg.Seed)
	if err != nil {
		return err
	}
	n.Payee = payee
	n.closers = append(n.closers, payeeDir.Close)

	return nil
}

// Handlers returns each node's HTTP handler.
func (n *Network) Handlers() map[downstream.Node]http.Handler {
	return map[downstream.Node]http.Handler{
		downstream.NodeSwitch:   n.Switch.Server.Handler(),
		downstream.NodeRemBank:  n.RemBank.Handler(),
		downstream.NodeBeneBank: n.BeneBank.Handler(),
		downstream.NodePayerPSP: n.Payer.Handler(),
		downstream.NodePayeePSP: n.Payee.Handler(),
	}
}

// Monitor returns a monitor with every node's state registered.
func (n *Network) Monitor() *monitor.Monitor {
	m := monitor.NewMonitor(n.Client, n.Switch.Store)
	m.RegisterNode(string(downstream.NodeSwitch), func() interface{} {
		stats := n.Switch.Router.Stats()
		return &stats
	})
	m.RegisterNode(string(downstream.NodeRemBank), func() interface{} { return bankState(n.RemBank, n.RemLedger) })
	m.RegisterNode(string(downstream.NodeBeneBank), func() interface{} { return bankState(n.BeneBank, n.BeneLedger) })
	m.RegisterNode(string(downstream.NodePayerPSP), func() interface{} {
		return &struct{ FinalResponses int }{n.Payer.Book().Len()}
	})
	return m
}

// BankState is a bank's counters plus its current balances.
type BankState struct {
	Status   *bank.Status
	Accounts []ledger.Account
}

func bankState(b *bank.Bank, l *ledger.Ledger) *BankState {
	accounts, err := l.List(context.Background())
	if err != nil {
		log.Printf("warning: failed to list accounts: %v", err)
	}
	return &BankState{Status: b.Status(), Accounts: accounts}
}

// Wait blocks until both banks have reported every accepted leg.
func (n *Network) Wait() {
	n.RemBank.Wait()
	n.BeneBank.Wait()
}

// Close closes every database opened by Open.
func (n *Network) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	if len(errs) > 0 {
		log.Printf("warning: %d databases failed to close", len(errs))
	}
	return errors.Join(errs...)
}
