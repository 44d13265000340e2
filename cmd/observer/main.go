// Command observer prints the stop states published for one trip.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"bus-wait-tracker/internal/publisher"
	"bus-wait-tracker/internal/waitstate"
)

func main() {
	_ = godotenv.Load()
	natsURL := flag.String("nats", envDefault("NATS_URL", nats.DefaultURL), "NATS server URL")
	prefix := flag.String("prefix", envDefault("NATS_SUBJECT_PREFIX", "buswait"), "subject prefix")
	tripID := flag.String("trip", "", "trip ID (default: today's trip of -bus)")
	busID := flag.String("bus", "", "bus ID used to derive today's trip ID")
	flag.Parse()

	if *tripID == "" {
		if *busID == "" {
			fmt.Fprintln(os.Stderr, "one of -trip or -bus is required")
			os.Exit(2)
		}
		*tripID = waitstate.TripID(*busID, time.Now())
	}

	nc, err := nats.Connect(*natsURL, nats.Name("bus-wait-observer"))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer nc.Drain()

	sub, err := publisher.SubscribeStopStates(nc, *prefix, *tripID, printState)
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}
	defer sub.Unsubscribe()
	log.Printf("observing %s", publisher.StopStateSubject(*prefix, *tripID, "*"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
}

func printState(m publisher.StopStateMessage) {
	elapsed := "-"
	if m.ElapsedSeconds != nil {
		elapsed = fmt.Sprintf("%ds", *m.ElapsedSeconds)
	}
	remaining := "-"
	if m.RemainingSeconds != nil {
		remaining = fmt.Sprintf("%ds", *m.RemainingSeconds)
	}
	fmt.Printf("%s %-14s %-13s elapsed=%s remaining=%s waits=%d absent=%d/%d\n",
		m.EvaluatedAt.Format(time.TimeOnly), m.StopID, m.State, elapsed, remaining,
		m.WaitRequestCount, m.AbsentCount, m.TotalPassengers)
}

func envDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
