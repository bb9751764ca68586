package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/webserv-go/webserv"
)

// defaultConfigFile is used when the binary is invoked without arguments.
const defaultConfigFile = "conf/default.toml"

func main() {
	configFile := defaultConfigFile
	switch len(os.Args) {
	case 1:
		if _, err := os.Stat(configFile); err != nil {
			fmt.Fprintln(
				os.Stderr,
				"webserv: missing configuration file argument",
			)
			os.Exit(1)
		}
	case 2:
		configFile = os.Args[1]
	default:
		fmt.Fprintln(os.Stderr, "usage: webserv <config-file>")
		os.Exit(1)
	}

	w := webserv.New()
	w.ConfigFile = configFile
	w.LoggerEnabled = true

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		w.Stop()
	}()

	if err := w.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, "webserv:", err)
		os.Exit(1)
	}
}
