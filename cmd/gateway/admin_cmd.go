package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const adminHTTPTimeout = 10 * time.Second

// adminPost issues an authenticated POST against a running server's
// admin API and prints its JSON response.
func adminPost(out, errOut io.Writer, path string, body any) int {
	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		fmt.Fprintln(errOut, "ADMIN_TOKEN must be set")
		return 2
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(errOut, "encode request: %v\n", err)
			return 1
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(http.MethodPost, gatewayBaseURL()+path, reader)
	if err != nil {
		fmt.Fprintf(errOut, "build request: %v\n", err)
		return 1
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: adminHTTPTimeout}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(errOut, "request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, string(respBody))
	if resp.StatusCode >= 300 {
		return 1
	}
	return 0
}

func runSupervisorCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: gateway supervisor <start|stop|trigger>")
		return 2
	}
	switch args[0] {
	case "start":
		return adminPost(stdout, stderr, "/admin/supervisor/start", nil)
	case "stop":
		return adminPost(stdout, stderr, "/admin/supervisor/stop", nil)
	case "trigger":
		return adminPost(stdout, stderr, "/admin/supervisor/trigger", nil)
	default:
		fmt.Fprintf(stderr, "unknown supervisor command: %s\n", args[0])
		return 2
	}
}

func runAdminCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: gateway admin <reset-circuit|reset-tenant-limit|ack-alert|revoke-credential|activate-credential> ...")
		return 2
	}
	switch args[0] {
	case "reset-circuit":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "usage: gateway admin reset-circuit <providerId>")
			return 2
		}
		return adminPost(stdout, stderr, "/admin/providers/"+args[1]+"/reset", nil)
	case "reset-tenant-limit":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "usage: gateway admin reset-tenant-limit <tenantId>")
			return 2
		}
		return adminPost(stdout, stderr, "/admin/tenants/"+args[1]+"/rate-limit/reset", nil)
	case "ack-alert":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "usage: gateway admin ack-alert <alertId> <userId>")
			return 2
		}
		return adminPost(stdout, stderr, "/admin/alerts/"+args[1]+"/acknowledge", map[string]string{"userId": args[2]})
	case "revoke-credential":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "usage: gateway admin revoke-credential <tenantId> <credentialId>")
			return 2
		}
		return adminPost(stdout, stderr, "/admin/tenants/"+args[1]+"/credentials/"+args[2]+"/revoke", nil)
	case "activate-credential":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "usage: gateway admin activate-credential <tenantId> <credentialId>")
			return 2
		}
		return adminPost(stdout, stderr, "/admin/tenants/"+args[1]+"/credentials/"+args[2]+"/emergency-activate", nil)
	default:
		fmt.Fprintf(stderr, "unknown admin command: %s\n", args[0])
		return 2
	}
}
