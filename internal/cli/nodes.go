package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/axel-blaze-11/pheonix/internal/bank"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/network"
	"github.com/axel-blaze-11/pheonix/internal/web"
)

var switchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Run the Switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		setLogPrefix(string(downstream.NodeSwitch))

		client, err := network.NewClient(cfg)
		if err != nil {
			return err
		}
		sw, err := network.NewSwitch(cfg, client)
		if err != nil {
			return err
		}
		return serve(cfg.Switch.Listen, sw.Server.Handler())
	},
}

var remBankCmd = &cobra.Command{
	Use:   "rem-bank",
	Short: "Run the Remitter Bank",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBank(cmd.Context(), bank.RoleRemitter)
	},
}

var beneBankCmd = &cobra.Command{
	Use:   "bene-bank",
	Short: "Run the Beneficiary Bank",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBank(cmd.Context(), bank.RoleBeneficiary)
	},
}

var payerPSPCmd = &cobra.Command{
	Use:   "payer-psp",
	Short: "Run the Payer PSP",
	RunE: func(cmd *cobra.Command, args []string) error {
		setLogPrefix(string(downstream.NodePayerPSP))

		client, err := network.NewClient(cfg)
		if err != nil {
			return err
		}
		p, dir, err := network.OpenPayerPSP(cmd.Context(), cfg.PSP.Payer, cfg.Seed, client)
		if err != nil {
			return err
		}
		atexit.Register(func() { dir.Close() })
		return serve(cfg.PSP.Payer.Listen, p.Handler())
	},
}

var payeePSPCmd = &cobra.Command{
	Use:   "payee-psp",
	Short: "Run the Payee PSP",
	RunE: func(cmd *cobra.Command, args []string) error {
		setLogPrefix(string(downstream.NodePayeePSP))

		p, dir, err := network.OpenPayeePSP(cmd.Context(), cfg.PSP.Payee, cfg.Seed)
		if err != nil {
			return err
		}
		atexit.Register(func() { dir.Close() })
		return serve(cfg.PSP.Payee.Listen, p.Handler())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all five nodes in one process",
	RunE:  runAll,
}

func init() {
	runCmd.Flags().Int("monitor-port", 0, "Serve the monitor on this port (overrides monitor.port)")
	runCmd.Flags().Bool("open", false, "Open the monitor in a browser")
}

func runBank(ctx context.Context, role bank.Role) error {
	bc, node := cfg.Bank.Remitter, downstream.NodeRemBank
	if role == bank.RoleBeneficiary {
		bc, node = cfg.Bank.Beneficiary, downstream.NodeBeneBank
	}
	setLogPrefix(string(node))

	client, err := network.NewClient(cfg)
	if err != nil {
		return err
	}
	b, l, err := network.OpenBank(ctx, role, bc, cfg.Seed, client)
	if err != nil {
		return err
	}
	atexit.Register(func() {
		b.Wait()
		l.Close()
	})
	return serve(bc.Listen, b.Handler())
}

// serve runs one node until interrupted.
func serve(addr string, h http.Handler) error {
	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("listening on %s", addr)
	return web.Serve(ctx, addr, h)
}

func runAll(cmd *cobra.Command, args []string) error {
	setLogPrefix("upisim")

	ctx, cancel := signalContext()
	defer cancel()

	n, err := network.Open(ctx, cfg)
	if err != nil {
		return err
	}
	atexit.Register(func() {
		n.Wait()
		n.Close()
	})

	port, _ := cmd.Flags().GetInt("monitor-port")
	if port == 0 {
		port = cfg.Monitor.Port
	}
	if port != 0 {
		m := n.Monitor().WithPortNumber(port)
		url, err := m.StartServer()
		if err != nil {
			return err
		}
		defer m.Close()

		if open, _ := cmd.Flags().GetBool("open"); open {
			if err := browser.OpenURL(url + "/api/nodes"); err != nil {
				log.Printf("warning: failed to open browser: %v", err)
			}
		}
	}

	listen := map[downstream.Node]string{
		downstream.NodeSwitch:   cfg.Switch.Listen,
		downstream.NodeRemBank:  cfg.Bank.Remitter.Listen,
		downstream.NodeBeneBank: cfg.Bank.Beneficiary.Listen,
		downstream.NodePayerPSP: cfg.PSP.Payer.Listen,
		downstream.NodePayeePSP: cfg.PSP.Payee.Listen,
	}
	handlers := n.Handlers()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, node := range downstream.AllNodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("%s listening on %s", node, listen[node])
			if err := web.Serve(ctx, listen[node], handlers[node]); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", node, err)
				}
				mu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()

	return firstErr
}
