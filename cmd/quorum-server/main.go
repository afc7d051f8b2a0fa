// Command quorum-server runs one replica of the cluster: it multiplexes
// peer and client connections through the mediator and serves the single-
// decree Paxos round state machine on top of a durable local value set.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/senutpal/paxosvs/internal/hostaddr"
	"github.com/senutpal/paxosvs/internal/identity"
	"github.com/senutpal/paxosvs/internal/logging"
	"github.com/senutpal/paxosvs/internal/mediator"
	"github.com/senutpal/paxosvs/internal/paxos"
	"github.com/senutpal/paxosvs/internal/store"
)

// proposerDelays is the (low, high) uniform backoff range between proposer
// retries.
var proposerDelays = [2]time.Duration{2 * time.Second, 5 * time.Second}

func main() {
	var (
		portFlag     string
		hostfileFlag string
	)

	cmd := &cobra.Command{
		Use:   "quorum-server",
		Short: "Runs one replica of the quorum value-set store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(portFlag, hostfileFlag)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&portFlag, "port", "p", "", "port where this server listens for TCP connections (required)")
	flags.StringVarP(&hostfileFlag, "hostfile", "f", "",
		"path to a whitespace-separated HOST:PORT list; HOST must be IPv4, [IPv6] or a hostname (required)")

	_ = cmd.MarkFlagRequired("port")
	_ = cmd.MarkFlagRequired("hostfile")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(portFlag, hostfileFlag string) error {
	self, err := identity.New()
	if err != nil {
		logging.Log.Fatal(err)
	}

	log := logging.For("server", self.UID)

	port, err := hostaddr.ParsePort(portFlag)
	if err != nil {
		log.Fatal(err)
	}

	hosts, err := hostaddr.LoadHostfile(hostfileFlag)
	if err != nil {
		log.Fatal(err)
	}

	log.Debugf("hosts: %v", hosts)

	datafile := fmt.Sprintf("quorum-%s.values", port)
	values, err := store.OpenLineStore(datafile)
	if err != nil {
		log.Fatal(err)
	}
	defer values.Close()

	med := mediator.New(self, hosts)
	handler := paxos.NewHandler(self.UID, values, med, proposerDelays, logging.For("paxos", self.UID))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signals
		log.Info("signal received, closing")
		med.Close()
	}()

	med.Start(port, mediator.DefaultDialDelays, handler.Handle)

	<-med.Done()
	return nil
}
