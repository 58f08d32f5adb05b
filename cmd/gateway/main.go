// Command gateway runs the LLM Gateway: the completion API, the
// supervisor loop, and the JWT-gated admin control surface, backed by
// Postgres or (with LITE_MODE=1) an embedded SQLite file.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out.
var startServer = runServer

// Run is the CLI entrypoint, factored out of main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "serve", "server":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "supervisor":
		return runSupervisorCmd(args[2:], stdout, stderr)
	case "admin":
		return runAdminCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "gateway - multi-tenant LLM gateway and admin agent runtime")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "usage: gateway <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  serve                        run the gateway server (default)")
	fmt.Fprintln(w, "  health                       check a running server's /health endpoint")
	fmt.Fprintln(w, "  supervisor start|stop|trigger  control the supervisor loop on a running server")
	fmt.Fprintln(w, "  admin reset-circuit <providerId>")
	fmt.Fprintln(w, "  admin reset-tenant-limit <tenantId>")
	fmt.Fprintln(w, "  admin ack-alert <alertId> <userId>")
	fmt.Fprintln(w, "  admin revoke-credential <tenantId> <credentialId>")
	fmt.Fprintln(w, "  admin activate-credential <tenantId> <credentialId>")
	fmt.Fprintln(w, "  help                         show this message")
}
