// Command roadsync runs one sync in the foreground and prints the result.
//
//	roadsync -bbox 136.85,35.10,136.95,35.20
//	roadsync -region Naka
//
// Interrupting the process cancels the run; it is recorded as partial.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/xtymac/eventflow-sub004/internal/db"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/roadsync"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		bbox        = flag.String("bbox", "", "minLng,minLat,maxLng,maxLat")
		region      = flag.String("region", "", "stored region boundary name")
		dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
		triggeredBy = flag.String("triggered-by", "cli", "actor recorded on the run")
	)
	flag.Parse()

	if (*bbox == "") == (*region == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -bbox or -region is required")
		flag.Usage()
		os.Exit(2)
	}
	if *dsn == "" {
		fatalf("-dsn not provided and DATABASE_URL not set")
	}

	logging.Init(logging.ConfigFromEnv())

	d, err := db.Open(*dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	if err := roadsync.Migrate(d); err != nil {
		fatalf("migrate: %v", err)
	}
	syncer, err := roadsync.Build(d, roadsync.LoadConfigFromEnv())
	if err != nil {
		fatalf("build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *roadsync.SyncRunResult
	if *bbox != "" {
		box, perr := geobox.Parse(*bbox)
		if perr != nil {
			fatalf("bbox: %v", perr)
		}
		res, err = syncer.RunBboxSync(ctx, box, *triggeredBy)
	} else {
		res, err = syncer.RunRegionSync(ctx, *region, *triggeredBy)
	}

	if res != nil {
		out, merr := json.MarshalIndent(res, "", "  ")
		if merr != nil {
			fatalf("encode result: %v", merr)
		}
		fmt.Println(string(out))
	}
	if err != nil {
		fatalf("sync: %v", err)
	}
	if res.Status == roadsync.StatusFailed {
		os.Exit(1)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
