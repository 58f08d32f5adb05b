package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
)

func gatewayBaseURL() string {
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		return v
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get(gatewayBaseURL() + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
