// runner-stub is a standalone runner endpoint for local development.
// It receives run dispatches from runmilld, verifies the HMAC signature
// when SECRET is set, and acknowledges runs. Set FAIL_EVERY=N to fail
// every Nth run, which is handy for exercising retries.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type runPayload struct {
	RunID     string         `json:"run_id"`
	Template  string         `json:"template"`
	Steps     []any          `json:"steps"`
	Variables map[string]any `json:"variables"`
	Queue     string         `json:"queue"`
	Attempt   int            `json:"attempt"`
	Source    string         `json:"source"`
}

type receivedRun struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Template  string `json:"template"`
	Queue     string `json:"queue"`
	Attempt   int    `json:"attempt"`
	Source    string `json:"source"`
	Failed    bool   `json:"failed"`
}

type stats struct {
	Count    int64         `json:"count"`
	Failed   int64         `json:"failed"`
	LastRuns []receivedRun `json:"last_runs"`
	Since    string        `json:"since"`
}

var (
	mu        sync.Mutex
	count     int64
	failed    int64
	lastRuns  []receivedRun
	since     time.Time
	maxStored = 50

	secret    string
	failEvery int64
	delay     time.Duration
)

func main() {
	since = time.Now().UTC()

	addr := ":9090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("SECRET")
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_EVERY %q", v)
		}
		failEvery = n
	}
	if v := os.Getenv("DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid DELAY %q", v)
		}
		delay = d
	}

	http.HandleFunc("/run", runHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		failed = 0
		lastRuns = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("runner-stub listening on %s (signature check: %v, fail_every: %d)", addr, secret != "", failEvery)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func runHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if secret != "" {
		sig := r.Header.Get("X-Runmill-Signature")
		if !verifySignature(secret, body, sig) {
			log.Printf("run rejected: bad signature (run_id=%s)", r.Header.Get("X-Runmill-Run-ID"))
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"error":"invalid signature"}`)
			return
		}
	}

	var payload runPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"invalid payload"}`)
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	mu.Lock()
	count++
	current := count
	fail := failEvery > 0 && current%failEvery == 0
	if fail {
		failed++
	}
	lastRuns = append(lastRuns, receivedRun{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     payload.RunID,
		Template:  payload.Template,
		Queue:     payload.Queue,
		Attempt:   payload.Attempt,
		Source:    payload.Source,
		Failed:    fail,
	})
	if len(lastRuns) > maxStored {
		lastRuns = lastRuns[len(lastRuns)-maxStored:]
	}
	mu.Unlock()

	if fail {
		log.Printf("run #%d failed (injected): run_id=%s attempt=%d", current, payload.RunID, payload.Attempt)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"injected failure"}`)
		return
	}

	log.Printf("run #%d accepted: run_id=%s template=%s queue=%s attempt=%d", current, payload.RunID, payload.Template, payload.Queue, payload.Attempt)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"accepted":%d}`, current)
}

func verifySignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:    count,
		Failed:   failed,
		LastRuns: lastRuns,
		Since:    since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
