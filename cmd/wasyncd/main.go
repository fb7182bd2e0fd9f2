package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/edubauerdev/wasync/internal/daemon"
	"github.com/edubauerdev/wasync/internal/workspace"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	pairFlag := flag.Bool("pair", false, "start a pairing flow when no credential is stored")
	flag.Parse()

	sessionName := workspace.Resolve(*sessionFlag)
	if err := workspace.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName:   sessionName,
			ManualConnect: *pairFlag,
		}),
	)

	app.Run()
}
