// Command gocache demonstrates the cache package end to end: capacity
// eviction, TTL expiry via the background scavenger, and clean
// shutdown. It is a development aid, not a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/BazookaMusic/LRUCacheDisposableObject/internal/blob"
	"github.com/BazookaMusic/LRUCacheDisposableObject/internal/cache"
)

func main() {
	app := &cli.App{
		Name:  "gocache",
		Usage: "exercise the LRU cache's eviction and expiry behavior",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "capacity", Value: 2, Usage: "cache byte budget"},
			&cli.DurationFlag{Name: "scavenge-period", Value: 100 * time.Millisecond},
			&cli.DurationFlag{Name: "element-lifetime", Value: 200 * time.Millisecond},
		},
		Commands: []*cli.Command{
			{
				Name:   "eviction",
				Usage:  "insert past capacity and show LRU eviction",
				Action: runEvictionDemo,
			},
			{
				Name:   "ttl",
				Usage:  "insert a short-lived entry and show scavenger-driven expiry",
				Action: runTTLDemo,
			},
		},
		Action: runFullDemo,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDemoLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// newBlob wraps payload as a blob.Blob the way a real client would wrap
// a network response body or an open file handle.
func newBlob(payload string) *blob.Blob {
	return blob.New(io.NopCloser(strings.NewReader(payload)), int64(len(payload)))
}

func runFullDemo(cliCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := cache.New[string, *blob.Blob](
		cliCtx.Int64("capacity"),
		cliCtx.Duration("scavenge-period"),
		1.0,
		cache.WithElementLifetime(cliCtx.Duration("element-lifetime")),
		cache.WithInitialScavengeDelay(50*time.Millisecond),
		cache.WithLogger(newDemoLogger()),
	)
	if err != nil {
		return fmt.Errorf("construct cache: %w", err)
	}
	defer func() {
		// Dispose is idempotent; safe to call in defer.
		if err := c.Dispose(); err != nil {
			log.Printf("cache dispose: %v", err)
		}
	}()

	log.Println("gocache demo starting")
	log.Printf("config: capacity=%d scavengePeriod=%s elementLifetime=%s",
		cliCtx.Int64("capacity"), cliCtx.Duration("scavenge-period"), cliCtx.Duration("element-lifetime"))

	if err := demoEviction(c); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Println("received shutdown signal")
		return nil
	default:
	}

	if err := demoTTL(ctx, c); err != nil {
		return err
	}

	fmt.Println("done")
	return nil
}

func runEvictionDemo(cliCtx *cli.Context) error {
	c, err := cache.New[string, *blob.Blob](cliCtx.Int64("capacity"), time.Hour, 1.0,
		cache.WithInitialScavengeDelay(time.Hour),
		cache.WithLogger(newDemoLogger()),
	)
	if err != nil {
		return err
	}
	defer c.Dispose()
	return demoEviction(c)
}

func runTTLDemo(cliCtx *cli.Context) error {
	c, err := cache.New[string, *blob.Blob](cliCtx.Int64("capacity"), cliCtx.Duration("scavenge-period"), 1.0,
		cache.WithElementLifetime(cliCtx.Duration("element-lifetime")),
		cache.WithInitialScavengeDelay(50*time.Millisecond),
		cache.WithLogger(newDemoLogger()),
	)
	if err != nil {
		return err
	}
	defer c.Dispose()
	return demoTTL(context.Background(), c)
}

// demoEviction inserts distinct keys until the byte budget overflows,
// showing that the least-recently-touched key is the one evicted.
func demoEviction(c *cache.Cache[string, *blob.Blob]) error {
	a, b := "a-"+uuid.NewString()[:8], "b-"+uuid.NewString()[:8]

	if err := c.Insert(a, newBlob("A")); err != nil {
		return fmt.Errorf("insert a: %w", err)
	}
	if err := c.Insert(b, newBlob("B")); err != nil {
		return fmt.Errorf("insert b: %w", err)
	}

	// Touch a so b becomes least-recently-used.
	if _, ok, err := c.Lookup(a); err == nil && ok {
		log.Printf("lookup %s: hit (touches it -> MRU)", a)
	}

	cKey := "c-" + uuid.NewString()[:8]
	if err := c.Insert(cKey, newBlob("C")); err != nil {
		return fmt.Errorf("insert c: %w", err)
	}
	if _, ok, err := c.Lookup(b); err == nil && !ok {
		log.Printf("lookup %s: miss (evicted as LRU)", b)
	}

	keys, err := c.Keys()
	if err != nil {
		return err
	}
	log.Printf("keys after eviction (MRU->LRU): %v", keys)
	return nil
}

// demoTTL inserts a short-lived entry and waits for the background
// scavenger, not a manual lookup, to remove it.
func demoTTL(ctx context.Context, c *cache.Cache[string, *blob.Blob]) error {
	key := "ttl-" + uuid.NewString()[:8]
	if err := c.Insert(key, newBlob("short-lived")); err != nil {
		return fmt.Errorf("insert ttl entry: %w", err)
	}

	keys, err := c.Keys()
	if err != nil {
		return err
	}
	log.Printf("keys after ttl insert (MRU->LRU): %v", keys)

	wait := time.NewTimer(500 * time.Millisecond)
	defer wait.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-wait.C:
	}

	keys, err = c.Keys()
	if err != nil {
		return err
	}
	log.Printf("keys after ttl + scavenge (MRU->LRU): %v", keys)

	if _, ok, err := c.Lookup(key); err == nil && !ok {
		log.Printf("lookup %s: miss (expired and removed by the scavenger)", key)
	} else if errors.Is(err, cache.ErrDisposed) {
		return err
	}
	return nil
}
