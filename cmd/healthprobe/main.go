package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// healthprobe polls a relay instance's health endpoint and exits non-zero
// when it does not answer in time. Intended for container healthchecks and
// deploy gates.
func main() {
	target := flag.String("target", "http://127.0.0.1:8080/healthz", "health endpoint URL")
	timeout := flag.Duration("timeout", 3*time.Second, "per-request timeout")
	attempts := flag.Int("attempts", 1, "number of attempts before failing")
	interval := flag.Duration("interval", time.Second, "delay between attempts")
	flag.Parse()

	client := &fasthttp.Client{ReadTimeout: *timeout, WriteTimeout: *timeout}

	var lastErr error
	for i := 0; i < *attempts; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		status, body, err := client.GetTimeout(nil, *target, *timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if status == fasthttp.StatusOK {
			fmt.Printf("ok: %s\n", string(body))
			return
		}
		lastErr = fmt.Errorf("unexpected status %d", status)
	}
	fmt.Fprintf(os.Stderr, "health probe failed: %v\n", lastErr)
	os.Exit(1)
}
