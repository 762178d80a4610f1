package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"aging.ai/internal/persistence/snapshot"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/host", "host bridge ws url")
		name     = flag.String("name", "hostbot", "host name sent in HELLO")
		snapPath = flag.String("snapshot", "", "world snapshot to load (.snap.zst or .json)")
		days     = flag.Int("days", 28, "days to start after loading")
		interval = flag.Duration("interval", 200*time.Millisecond, "delay between days")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[hostbot] ", log.LstdFlags|log.Lmicroseconds)
	if *snapPath == "" {
		logger.Fatalf("missing -snapshot")
	}

	var (
		snap snapshot.SnapshotV1
		err  error
	)
	if strings.HasSuffix(*snapPath, ".json") {
		snap, err = snapshot.ReadJSON(*snapPath)
	} else {
		snap, err = snapshot.ReadSnapshot(*snapPath)
	}
	if err != nil {
		logger.Fatalf("read snapshot: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum, err := run(ctx, config{
		URL:      *url,
		HostName: *name,
		Days:     *days,
		Interval: *interval,
	}, &snap, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Printf("done: session=%s days=%d updates=%d birthdays=%d errors=%d", sum.SessionID, sum.Days, sum.Updates, sum.Birthdays, sum.Errors)
}
