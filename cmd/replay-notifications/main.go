// Command replay-notifications re-delivers archived gateway notifications
// to the webhook endpoint. Each input file is a gzip-compressed stream of
// JSON payloads, one per line. Lines of a file are sent in order; files are
// replayed concurrently.
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	progressEvery = 1000
	maxLineBytes  = 1 << 20
)

type replayer struct {
	client  *http.Client
	url     string
	lg      *zap.Logger
	sent    atomic.Int64
	skipped atomic.Int64
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var (
			target  string
			workers int
			timeout time.Duration
		)
		flag.StringVar(&target, "url", "http://localhost:8080/api/sepay/webhook", "webhook URL to deliver to")
		flag.IntVar(&workers, "workers", 4, "files replayed concurrently")
		flag.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
		flag.Parse()

		files := flag.Args()
		if len(files) == 0 {
			return errors.New("usage: replay-notifications [flags] FILE.jsonl.gz...")
		}

		r := &replayer{
			client: &http.Client{Timeout: timeout},
			url:    target,
			lg:     lg,
		}
		if err := r.run(ctx, files, workers); err != nil {
			return errors.Wrap(err, "replay")
		}
		lg.Info("Replay completed",
			zap.Int64("sent", r.sent.Load()),
			zap.Int64("skipped", r.skipped.Load()),
		)
		return nil
	})
}

func (r *replayer) run(ctx context.Context, files []string, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, f := range files {
		g.Go(func() error {
			return r.replayFile(ctx, f)
		})
	}
	return g.Wait()
}

func (r *replayer) replayFile(ctx context.Context, path string) error {
	lg := r.lg.With(zap.String("file", path))
	var count int64
	err := streamGzFile(ctx, path, func(line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			r.skipped.Add(1)
			return nil
		}
		if err := r.deliver(ctx, line); err != nil {
			return errors.Wrapf(err, "line %d", count+1)
		}
		count++
		r.sent.Add(1)
		if count%progressEvery == 0 {
			lg.Info("Replay progress", zap.Int64("sent", count))
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "replay %s", path)
	}
	lg.Info("File replayed", zap.Int64("sent", count))
	return nil
}

// deliver posts one payload. Any non-2xx answer except 400 aborts the file;
// a 400 means the archived payload itself is unusable and is only logged.
func (r *replayer) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post")
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		r.lg.Warn("Payload rejected", zap.ByteString("response", body))
		return nil
	case resp.StatusCode/100 != 2:
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
