package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/hookwire/hookwire/internal/signing"
)

const (
	sigHeader   = "X-Webhook-Signature"
	eventHeader = "X-Event-Type"
)

var (
	failFirstN     = 0
	reqCount       = 0
	endpointSecret = ""
)

func main() {
	// Simulate flakiness: fail the first N requests with a 500
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	if v := os.Getenv("ENDPOINT_SECRET"); v != "" {
		endpointSecret = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	addr := ":8081"
	if v := os.Getenv("HTTP_PORT"); v != "" {
		addr = v
	}
	log.Printf("fake-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	reqCount++
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if endpointSecret != "" {
		sig := r.Header.Get(sigHeader)
		if sig == "" {
			http.Error(w, "missing signature header", http.StatusUnauthorized)
			return
		}
		if !signing.Verify(endpointSecret, b, sig) {
			log.Printf("fake-receiver signature mismatch event=%s", r.Header.Get(eventHeader))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	if reqCount <= failFirstN {
		log.Printf("FAILING (%d/%d) event=%s body=%s", reqCount, failFirstN, r.Header.Get(eventHeader), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK event=%s body=%q", r.Header.Get(eventHeader), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate shortens a string to n bytes with an ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
