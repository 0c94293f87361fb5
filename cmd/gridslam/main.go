// Command gridslam replays a recorded laser scan log through a mapping
// session, persists snapshots and exports the resulting occupancy grid.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gridslam/internal/config"
	"github.com/banshee-data/gridslam/internal/fsutil"
	"github.com/banshee-data/gridslam/internal/monitoring"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
	"github.com/banshee-data/gridslam/internal/slam/mapping"
	"github.com/banshee-data/gridslam/internal/slam/monitor"
	"github.com/banshee-data/gridslam/internal/slam/rosmap"
	"github.com/banshee-data/gridslam/internal/slam/scanlog"
	"github.com/banshee-data/gridslam/internal/slam/storage/sqlite"
	"github.com/banshee-data/gridslam/internal/timeutil"
	"github.com/banshee-data/gridslam/internal/version"
)

var logf = monitoring.Component("gridslam")

type options struct {
	configPath  string
	scansPath   string
	dbPath      string
	resume      bool
	outDir      string
	mapName     string
	listen      string
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("gridslam", flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to a SLAM config JSON file (defaults when empty)")
	fs.StringVar(&o.scansPath, "scans", "", "JSON-lines scan log to replay ('-' for stdin)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database for snapshots and poses (disabled when empty)")
	fs.BoolVar(&o.resume, "resume", false, "Restore the latest snapshot from -db before replaying")
	fs.StringVar(&o.outDir, "out", "", "Directory for the exported map (disabled when empty)")
	fs.StringVar(&o.mapName, "name", "map", "Base name of the exported map files")
	fs.StringVar(&o.listen, "listen", "", "Debug HTTP listen address; keeps serving after replay until interrupted")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.showVersion {
		return o, nil
	}
	if o.scansPath == "" {
		return nil, errors.New("-scans is required")
	}
	if o.resume && o.dbPath == "" {
		return nil, errors.New("-resume requires -db")
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("gridslam: %v", err)
	}
	if o.showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("gridslam: %v", err)
	}
}

func run(ctx context.Context, o *options) error {
	cfg := config.EmptySLAMConfig()
	if o.configPath != "" {
		loaded, err := config.LoadSLAMConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	clock := timeutil.RealClock{}
	session := mapping.NewSession(cfg, clock)

	var store *sqlite.Store
	var flusher *mapping.Flusher
	var wg sync.WaitGroup
	if o.dbPath != "" {
		var err error
		store, err = sqlite.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if o.resume {
			snap, err := store.LatestSnapshot("")
			switch {
			case errors.Is(err, sqlite.ErrSnapshotNotFound):
				logf("no snapshot to resume from, starting empty")
			case err != nil:
				return err
			default:
				if err := session.Restore(snap); err != nil {
					return fmt.Errorf("failed to resume: %w", err)
				}
			}
		}
		if err := store.CreateSession(session.ID(), cfg, clock.Now()); err != nil {
			return err
		}

		flusher = mapping.NewFlusher(mapping.FlusherConfig{
			Persister: session,
			Store:     store,
			Interval:  cfg.GetSnapshotInterval(),
		})
		flushCtx, cancelFlush := context.WithCancel(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flusher.Run(flushCtx); err != nil {
				logf("flusher: %v", err)
			}
		}()
		defer func() {
			cancelFlush()
			wg.Wait()
		}()
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	serveDone := make(chan error, 1)
	if o.listen != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: o.listen,
			Session: session,
			Flusher: flusher,
		})
		go func() { serveDone <- ws.Start(serveCtx) }()
	} else {
		close(serveDone)
	}

	if err := replay(ctx, o.scansPath, session, store); err != nil {
		return err
	}

	st := session.Stats()
	logf("replay finished: scans=%d map_updates=%d pose=%+v occupied=%d free=%d",
		st.Scans, st.MapUpdates, st.Pose, st.Grid.Occupied, st.Grid.Free)

	if o.outDir != "" {
		var path string
		var err error
		session.WithMap(func(m *gridmap.LogOddsGridMap) {
			path, err = rosmap.Export(fsutil.OSFileSystem{}, o.outDir, o.mapName, m)
		})
		if err != nil {
			return err
		}
		logf("map exported to %s", path)
	}

	if o.listen != "" {
		logf("serving debug view on %s until interrupted", o.listen)
		select {
		case <-ctx.Done():
		case err := <-serveDone:
			if err != nil {
				return err
			}
		}
		cancelServe()
		<-serveDone
	}
	return nil
}

func replay(ctx context.Context, path string, session *mapping.Session, store *sqlite.Store) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open scan log: %w", err)
		}
		defer f.Close()
		in = f
	}

	reader := scanlog.NewReader(in)
	start := time.Now()
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			logf("replay interrupted after %d scans", session.Stats().Scans)
			return nil
		}

		scan, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, scanlog.ErrMalformedScan) {
			skipped++
			logf("skipping scan: %v", err)
			continue
		}
		if err != nil {
			return err
		}

		u := session.ProcessLaserScan(scan)
		if store != nil {
			at := time.Now()
			if scan.StampUnixNanos != 0 {
				at = time.Unix(0, scan.StampUnixNanos)
			}
			rec := mapping.PoseRecord{Scan: u.Scan, Pose: u.Pose, At: at, Matched: u.Matched, MapUpdated: u.MapUpdated}
			if err := store.InsertPose(session.ID(), rec); err != nil {
				return err
			}
		}
		if u.Scan%100 == 0 {
			logf("processed %d scans (%.1f scans/s)", u.Scan, float64(u.Scan)/time.Since(start).Seconds())
		}
	}
	if skipped > 0 {
		logf("skipped %d malformed scans", skipped)
	}
	return nil
}
