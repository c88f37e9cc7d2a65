// Command nameserver runs the single well-known bootstrap registry
// peers REGISTER against on boot.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LucaCantagallo/DS-Cinema/internal/admin"
	"github.com/LucaCantagallo/DS-Cinema/internal/config"
	"github.com/LucaCantagallo/DS-Cinema/internal/directory"
	"github.com/LucaCantagallo/DS-Cinema/internal/metrics"
	"github.com/LucaCantagallo/DS-Cinema/internal/nameserver"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
	"github.com/LucaCantagallo/DS-Cinema/internal/transport"
)

func main() {
	var addr, adminAddr, configPath string

	root := &cobra.Command{
		Use:   "nameserver",
		Short: "Run the DS-Cinema peer directory bootstrap registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NameServer{Addr: addr, AdminAddr: adminAddr}
			if err := config.LoadNameServer(configPath, &cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}
			return run(cfg)
		},
	}

	root.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "listen address for peer REGISTER/SYNC traffic")
	root.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:5050", "listen address for the admin HTTP surface")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.NameServer) error {
	log := logrus.New().WithField("node_id", "nameserver")

	dir := directory.New()
	m := metrics.New("nameserver")

	var ns *nameserver.NameServer
	tr := transport.New("nameserver", dir, m, log, func(msg protocol.Envelope) {
		ns.HandleMessage(msg)
	})
	ns = nameserver.New(dir, tr, m, log)

	if err := tr.Start(cfg.Addr); err != nil {
		return err
	}
	defer tr.Stop()

	router := admin.Router("nameserver", ns, nil, m)
	log.WithField("admin_addr", cfg.AdminAddr).Info("starting admin HTTP surface")
	return http.ListenAndServe(cfg.AdminAddr, router)
}
