// PlusLife result notifier entrypoint.
//
// Runs the webhook service: a device posts status webhooks to a session's
// URL, the session's state machine folds them, live viewers get pushed
// chart updates over websockets, and on completion the final result is
// emailed through Mailgun.
//
// Design notes:
//   - Sessions are purely in-memory and expire after -cleanup-period; a
//     process restart loses in-flight tests by design.
//   - All configuration is validated up front; an invalid flag is fatal
//     before the listener starts.
//   - Secrets default from the environment so they stay out of shell
//     history (-mailgun-api-key falls back to MAILGUN_API_KEY).
package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/mail"
	"os"
	"time"

	"github.com/results-wang/pluslife-notifier/src/logging"
	"github.com/results-wang/pluslife-notifier/src/mailgun"
	"github.com/results-wang/pluslife-notifier/src/notifier"
	"github.com/results-wang/pluslife-notifier/src/server"
	"github.com/results-wang/pluslife-notifier/src/sessions"
)

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	baseURL := flag.String("base-url", envOr("BASE_URL", ""), "Externally visible base URL used in webhook links (e.g. https://results.example.com)")
	senderEmail := flag.String("sender-email", envOr("SENDER_EMAIL", ""), "From address for result emails")
	mailgunDomain := flag.String("mailgun-domain", envOr("MAILGUN_DOMAIN", ""), "Mailgun sending domain")
	mailgunAPIKey := flag.String("mailgun-api-key", envOr("MAILGUN_API_KEY", ""), "Mailgun API key")
	mailgunRegion := flag.String("mailgun-region", envOr("MAILGUN_REGION", "eu"), "Mailgun region (eu|us)")
	cleanupPeriod := flag.Duration("cleanup-period", envDurationOr("CLEANUP_PERIOD", time.Hour), "Idle session expiry duration")
	logLevel := flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	flag.Parse()

	if !logging.SetLevel(*logLevel) {
		fatalf("invalid -log-level %q (want debug|info|warn|error)", *logLevel)
	}

	if *baseURL == "" {
		fatalf("missing -base-url (or BASE_URL)")
	}
	if _, err := mail.ParseAddress(*senderEmail); err != nil {
		fatalf("invalid -sender-email %q: %v", *senderEmail, err)
	}
	if *mailgunDomain == "" {
		fatalf("missing -mailgun-domain (or MAILGUN_DOMAIN)")
	}
	if *mailgunAPIKey == "" {
		fatalf("missing -mailgun-api-key (or MAILGUN_API_KEY)")
	}
	region, err := mailgun.ParseRegion(*mailgunRegion)
	if err != nil {
		fatalf("invalid -mailgun-region: %v", err)
	}
	if *cleanupPeriod <= 0 {
		fatalf("-cleanup-period must be positive")
	}

	registry := sessions.NewRegistry(*cleanupPeriod)
	client := mailgun.NewClient(region, *mailgunDomain, *mailgunAPIKey)
	srv := server.New(registry, notifier.New(client, *senderEmail), *baseURL)

	addr := fmt.Sprintf(":%d", *port)
	logging.Infof("starting server on %s (base url %s)", addr, *baseURL)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		fatalf("server failed: %v", err)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fatalf("invalid %s %q: %v", name, v, err)
	}
	return d
}

func fatalf(format string, a ...interface{}) {
	logging.Errorf(format, a...)
	os.Exit(1)
}
