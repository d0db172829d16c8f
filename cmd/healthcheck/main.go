// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the ghostwall /health endpoint returns HTTP
// 200, and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"flag"
	"net/http"
	"os"
	"time"
)

var url = flag.String("url", "http://localhost:8080/health", "Health endpoint to check")

func main() {
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
