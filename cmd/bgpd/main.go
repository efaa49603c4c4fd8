// Command bgpd is the speaker's entry point (spec.md §1/§6, component
// C9's caller): `bgpd run <config-path>` starts the server loop end to
// end. Grounded on cmd/main.go's listener-then-router wiring, generalized
// to load its config.Config from a file instead of hardcoding AS numbers
// and peer IPs inline.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/transitorykris/kbgp/config"
	"github.com/transitorykris/kbgp/server"
)

// loadConfig is the seam the TOML configuration loader plugs into. Parsing
// TOML is an external collaborator per spec.md §1's Non-goals, so this
// binary ships only the seam and a diagnostic default; a real deployment
// replaces it (or vendors a small main that does) with an actual decode of
// the named file into a *config.Config before calling config.New.
var loadConfig = func(path string) (*config.Config, error) {
	return nil, fmt.Errorf("bgpd: no TOML loader wired; decode %s into a config.Config and call config.New before server.New", path)
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: bgpd run <config-path>")
		os.Exit(2)
	}

	if err := run(os.Args[2]); err != nil {
		logrus.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = config.New(cfg)

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		srv.Run(stop)
		close(done)
	}()

	<-sig
	logrus.Info("bgpd: received shutdown signal")
	close(stop)
	<-done
	return nil
}
