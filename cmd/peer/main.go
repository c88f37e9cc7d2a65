// Command peer runs one DS-Cinema peer: it registers with the name
// server, participates in the Ricart-Agrawala mutex over its peers, and
// exposes a console observer standing in for the original Tkinter GUI.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LucaCantagallo/DS-Cinema/internal/admin"
	"github.com/LucaCantagallo/DS-Cinema/internal/clock"
	"github.com/LucaCantagallo/DS-Cinema/internal/config"
	"github.com/LucaCantagallo/DS-Cinema/internal/directory"
	"github.com/LucaCantagallo/DS-Cinema/internal/metrics"
	"github.com/LucaCantagallo/DS-Cinema/internal/mutex"
	"github.com/LucaCantagallo/DS-Cinema/internal/observer"
	"github.com/LucaCantagallo/DS-Cinema/internal/protocol"
	"github.com/LucaCantagallo/DS-Cinema/internal/replica"
	"github.com/LucaCantagallo/DS-Cinema/internal/transport"
)

func main() {
	var (
		nameserverAddr string
		seats          int
		adminAddr      string
		configPath     string
	)

	root := &cobra.Command{
		Use:   "peer <node_id> <port>",
		Short: "Run one DS-Cinema peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}

			cfg := config.Peer{
				NodeID:         args[0],
				Port:           port,
				NameserverAddr: nameserverAddr,
				Seats:          seats,
				AdminAddr:      adminAddr,
			}
			if err := config.LoadPeer(configPath, &cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("nameserver") {
				cfg.NameserverAddr = nameserverAddr
			}
			if cmd.Flags().Changed("seats") {
				cfg.Seats = seats
			}
			if cmd.Flags().Changed("admin-addr") {
				cfg.AdminAddr = adminAddr
			}
			cfg.NodeID = args[0]
			cfg.Port = port

			return run(cfg)
		},
	}

	root.Flags().StringVar(&nameserverAddr, "nameserver", "127.0.0.1:5000", "name server address")
	root.Flags().IntVar(&seats, "seats", 25, "number of seats in the replicated resource")
	root.Flags().StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address (default: port+1000)")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Peer) error {
	log := logrus.New().WithField("node_id", cfg.NodeID)

	clk := clock.New()
	dir := directory.New()
	m := metrics.New(cfg.NodeID)
	obs := observer.NewConsole(cfg.NodeID)

	// The transport's dispatch needs the engine and coordinator, which in
	// turn need the transport to send on. Break the cycle the way
	// cmd/nameserver does: hand transport.New a closure over a dispatch
	// variable, then assign it once everything downstream exists.
	var dispatch func(protocol.Envelope)
	tr := transport.New(cfg.NodeID, dir, m, log, func(msg protocol.Envelope) { dispatch(msg) })

	eng := mutex.New(cfg.NodeID, clk, dir, tr, m, log)
	coord := replica.New(cfg.NodeID, cfg.Seats, clk, tr, eng, obs, log)
	dispatch = replica.Wire(coord, eng.OnMessage)

	listenAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	if err := tr.Start(listenAddr); err != nil {
		return err
	}
	defer tr.Stop()

	if err := registerWithNameServer(cfg.NodeID, cfg.Port, cfg.NameserverAddr); err != nil {
		log.WithError(err).Warn("could not reach name server, continuing in isolated mode")
		obs.Log("ERROR: NameServer unreachable!")
	} else {
		log.Info("registered to name server")
	}

	adminAddr := cfg.AdminAddr
	if adminAddr == "" {
		adminAddr = fmt.Sprintf("127.0.0.1:%d", cfg.Port+1000)
	}
	router := admin.Router(cfg.NodeID, dir, coord, m)
	log.WithField("admin_addr", adminAddr).Info("starting admin HTTP surface")
	return http.ListenAndServe(adminAddr, router)
}

func registerWithNameServer(nodeID string, port int, nameserverAddr string) error {
	dir := directory.New()
	dir.Put("nameserver", mustParseAddr(nameserverAddr))
	tr := transport.New(nodeID, dir, nil, logrus.New().WithField("node_id", nodeID), nil)
	if !tr.SendTo("nameserver", protocol.Register(nodeID, port)) {
		return fmt.Errorf("send REGISTER to %s failed", nameserverAddr)
	}
	return nil
}

func mustParseAddr(addr string) protocol.PeerAddr {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return protocol.PeerAddr{Host: "127.0.0.1", Port: 5000}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return protocol.PeerAddr{Host: "127.0.0.1", Port: 5000}
	}
	return protocol.PeerAddr{Host: host, Port: port}
}
