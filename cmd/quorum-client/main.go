// Command quorum-client connects to one replica and issues write/search
// commands read from stdin.
package main

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/senutpal/paxosvs/internal/conn"
	"github.com/senutpal/paxosvs/internal/hostaddr"
	"github.com/senutpal/paxosvs/internal/logging"
	"github.com/senutpal/paxosvs/internal/wire"
)

func main() {
	var hostFlag string

	cmd := &cobra.Command{
		Use:   "quorum-client",
		Short: "Connects to a quorum server and issues write/search commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(hostFlag)
		},
	}

	cmd.Flags().StringVarP(&hostFlag, "host", "H", "", "server host in HOST:PORT form (required)")
	_ = cmd.MarkFlagRequired("host")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(hostFlag string) error {
	log := logging.For("client", uuid.Nil)

	host, err := hostaddr.ParseHostPort(hostFlag)
	if err != nil {
		log.Fatal(err)
	}

	socket, err := net.Dial("tcp", host.DialAddr())
	if err != nil {
		log.Fatal("failed to connect to the server")
	}

	if err := handshake(socket); err != nil {
		log.Fatal("failed to connect to the server")
	}

	connected := conn.New()
	connected.SetReader(socket, socket)
	connected.SetWriter(socket)

	connected.OnReceive(func(m wire.Message) {
		log.Infof("received message: %+v", m)
	})
	connected.OnFail(func() {
		log.Fatal("lost connection to the server")
	})

	repl(connected, log)

	connected.Close()
	return nil
}

func handshake(socket net.Conn) error {
	if err := wire.WriteMessage(socket, &wire.Client{}); err != nil {
		return err
	}

	received, err := wire.ReadMessage(socket)
	if err != nil {
		return err
	}

	if _, ok := received.(*wire.Acknowledge); !ok {
		return errors.New("handshake failed")
	}

	return nil
}

func repl(connected *conn.Connection, log *logrus.Entry) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" {
			return
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Error("missing command parameter")
			continue
		}

		command, parameter := fields[0], fields[1]

		switch command {
		case "write":
			connected.Send(&wire.Write{Value: parameter})
		case "search":
			connected.Send(&wire.Search{Value: parameter, Recurse: true})
		default:
			log.Errorf("unknown command: %s", command)
		}
	}
}
