// Command cleanup deletes authorization codes past the audit retention
// window. Run it from cron or a scheduled job.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"grantor.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("dsn", os.Getenv("GRANTOR_PG_DSN"), "PostgreSQL DSN")
		retention = flag.Duration("retention", time.Hour, "How long expired codes are kept for audit")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GRANTOR_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	cutoff := time.Now().UTC().Add(-*retention)
	n, err := store.Codes().PurgeExpired(ctx, cutoff)
	if err != nil {
		log.Fatalf("purge expired codes: %v", err)
	}
	log.Printf("purged %d expired authorization codes (cutoff %s)", n, cutoff.Format(time.RFC3339))
}
