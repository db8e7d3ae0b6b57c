// Command order-export dumps all terminal orders to a gzip-compressed NDJSON
// file for offline analysis and support tooling. Previous export files can be
// supplied to make the export incremental: their order ids are loaded into a
// bloom filter and already-exported orders are skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

func main() {
	var (
		databaseURL string
		outPath     string
		resumeDir   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outPath, "out", "", "output file (default orders-<date>.ndjson.gz)")
	flag.StringVar(&resumeDir, "resume-dir", "", "directory of previous exports to skip")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if outPath == "" {
		outPath = "orders-" + time.Now().Format("2006-01-02") + ".ndjson.gz"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, databaseURL, outPath, resumeDir); err != nil {
		slog.Error("export failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, outPath, resumeDir string) error {
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	if resumeDir != "" {
		n, err := loadPrevious(ctx, resumeDir, seen)
		if err != nil {
			return errors.Wrap(err, "load previous exports")
		}
		slog.Info("loaded previous exports", "orders", n)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer out.Close()

	zw := pgzip.NewWriter(out)
	bw := bufio.NewWriterSize(zw, 1<<20)

	var exported, skipped int
	repo := postgres.NewOrderRepository(pool)
	err = repo.ForEachTerminal(ctx, func(rec checkout.OrderRecord) error {
		if seen.TestString(rec.AppOrderID) {
			skipped++
			return nil
		}
		line := encodeOrder(rec)
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		exported++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "stream orders")
	}

	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close gzip stream")
	}

	slog.Info("export complete", "file", outPath, "exported", exported, "skipped", skipped)
	return nil
}

// loadPrevious scans previous export files concurrently and adds their order
// ids to the filter. Returns the total number of ids loaded.
func loadPrevious(ctx context.Context, dir string, seen *bloom.BloomFilter) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.ndjson.gz"))
	if err != nil {
		return 0, err
	}

	ids := make(chan string, 1024)
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		g.Go(func() error {
			return scanExport(ctx, path, ids)
		})
	}

	done := make(chan int)
	go func() {
		n := 0
		for id := range ids {
			seen.AddString(id)
			n++
		}
		done <- n
	}()

	err = g.Wait()
	close(ids)
	n := <-done
	return n, err
}

// scanExport extracts the appOrderId of every NDJSON line in one export file.
func scanExport(ctx context.Context, path string, ids chan<- string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip %s", path)
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := orderIDFromLine(sc.Bytes())
		if err != nil {
			return errors.Wrapf(err, "parse %s", path)
		}
		if id != "" {
			select {
			case ids <- id:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return sc.Err()
}

func orderIDFromLine(line []byte) (string, error) {
	d := jx.DecodeBytes(line)
	var id string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "appOrderId" {
			return d.Skip()
		}
		v, err := d.Str()
		id = v
		return err
	})
	return id, err
}

func encodeOrder(rec checkout.OrderRecord) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("appOrderId")
	e.Str(rec.AppOrderID)
	e.FieldStart("sessionId")
	e.Str(rec.SessionID)
	e.FieldStart("source")
	e.Str(string(rec.Source))
	e.FieldStart("status")
	e.Str(rec.Status.String())
	e.FieldStart("amountMinor")
	e.Int64(int64(rec.Amount))
	e.FieldStart("currency")
	e.Str(rec.Session.Currency)
	e.FieldStart("addressId")
	e.Str(rec.AddressID)
	if rec.Reason != "" {
		e.FieldStart("reason")
		e.Str(rec.Reason)
	}
	e.FieldStart("createdAt")
	e.Str(rec.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(rec.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}
