package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/ayusman/egomotion/internal/camera"
	"github.com/ayusman/egomotion/internal/decode"
	"github.com/ayusman/egomotion/internal/epipolar"
	"github.com/ayusman/egomotion/internal/pipeline"
	"github.com/ayusman/egomotion/internal/plugin"
	"github.com/ayusman/egomotion/internal/pose"
	"github.com/ayusman/egomotion/internal/server"
	"github.com/ayusman/egomotion/internal/store"
)

func main() {
	var (
		source    = flag.String("source", "", "input source: .mvec dump, video file, or stream URL")
		decoder   = flag.String("decoder", "mvec", "decoder: mvec, video, synthetic, or plugin:<name>")
		estimator = flag.String("estimator", "ransac", "estimator: ransac or plugin:<name>")
		plugins   = flag.String("plugins", "plugins", "directory scanned for plugins")

		focal  = flag.Float64("focal", 1000, "focal length in pixels")
		cx     = flag.Float64("cx", 0, "principal point x (default width/2)")
		cy     = flag.Float64("cy", 0, "principal point y (default height/2)")
		width  = flag.Int("width", 1280, "frame width in pixels")
		height = flag.Int("height", 720, "frame height in pixels")

		maxError  = flag.Float64("max-error", 1.0, "inlier threshold in pixels (symmetric epipolar distance)")
		sample    = flag.Int("sample", 8, "minimal sample size: 7 or 8")
		seed      = flag.Int64("seed", 1, "hypothesis search seed")
		workers   = flag.Int("workers", 0, "hypothesis workers (0 = GOMAXPROCS)")
		baseline  = flag.Float64("baseline-scale", 0, "known metric baseline per frame pair (0 = unit directions)")
		dbPath    = flag.String("db", "", "sqlite database path (default ~/.egomotion/egomotion.db)")
		addr      = flag.String("addr", ":8080", "HTTP listen address")
		serve     = flag.Bool("serve", false, "serve the API and live trajectory feed while running")
		staticDir = flag.String("static", "", "directory of static files to serve at /")
	)
	flag.Parse()

	if *cx == 0 {
		*cx = float64(*width) / 2
	}
	if *cy == 0 {
		*cy = float64(*height) / 2
	}
	intr, err := camera.NewIntrinsics(*focal, *cx, *cy, *width, *height)
	if err != nil {
		log.Fatalf("Bad intrinsics: %v", err)
	}

	st, err := store.New(databasePath(*dbPath))
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	registry := plugin.NewRegistry()
	if err := registry.Discover(*plugins); err != nil {
		log.Fatalf("Failed to scan plugin directory: %v", err)
	}

	dec, err := buildDecoder(registry, *decoder, *source, intr)
	if err != nil {
		log.Fatalf("Failed to build decoder: %v", err)
	}
	est, err := buildEstimator(registry, *estimator, *sample, *maxError, *seed, *workers)
	if err != nil {
		log.Fatalf("Failed to build estimator: %v", err)
	}

	run := &store.Run{
		ID:         uuid.New().String(),
		Source:     *source,
		Decoder:    *decoder,
		Estimator:  *estimator,
		Intrinsics: intr,
	}
	if err := st.Runs().Create(run); err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}
	fmt.Printf("Run %s: %s via %s/%s\n", run.ID, *source, *decoder, *estimator)

	var live *server.LiveHandler
	if *serve {
		live = server.NewLiveHandler()
		srv := server.New(server.Config{StaticDir: *staticDir, Store: st, Live: live})
		go func() {
			fmt.Printf("Serving on %s\n", *addr)
			if err := srv.ListenAndServe(*addr); err != nil {
				log.Fatalf("Server failed: %v", err)
			}
		}()
	}

	records := st.Records()
	pipe, err := pipeline.New(pipeline.Config{
		Intrinsics:    intr,
		Decoder:       dec,
		Estimator:     est,
		BaselineScale: *baseline,
		Sink: func(rec pipeline.Record) {
			if err := records.Append(run.ID, rec); err != nil {
				log.Printf("store: dropping record %d: %v", rec.FrameIndex, err)
			}
			if live != nil {
				live.Publish(rec)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("Stopping at next frame boundary")
		pipe.Stop()
	}()

	if err := pipe.Run(); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
	if err := st.Runs().Finish(run.ID); err != nil {
		log.Printf("store: finishing run: %v", err)
	}

	printSummary(pipe)
}

// databasePath resolves the database location, defaulting to
// ~/.egomotion/egomotion.db and creating the directory when needed.
func databasePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	dbDir := filepath.Join(homeDir, ".egomotion")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	return filepath.Join(dbDir, "egomotion.db")
}

func buildDecoder(registry *plugin.Registry, kind, source string, intr camera.Intrinsics) (pipeline.Decoder, error) {
	if name, ok := strings.CutPrefix(kind, "plugin:"); ok {
		h, err := registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("decoder plugin %q: %w", name, err)
		}
		return registry.NewDecoder(h, []string{source})
	}
	switch kind {
	case "mvec":
		if source == "" {
			return nil, fmt.Errorf("decoder mvec needs -source")
		}
		return decode.OpenMvec(source)
	case "video":
		if source == "" {
			return nil, fmt.Errorf("decoder video needs -source")
		}
		return decode.OpenFarneback(source)
	case "synthetic":
		return decode.NewSynthetic(intr, 24, 14, syntheticScript()), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", kind)
	}
}

func buildEstimator(registry *plugin.Registry, kind string, sample int, maxError float64, seed int64, workers int) (pipeline.Estimator, error) {
	if name, ok := strings.CutPrefix(kind, "plugin:"); ok {
		h, err := registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("estimator plugin %q: %w", name, err)
		}
		return registry.NewEstimator(h, nil)
	}
	if kind != "ransac" {
		return nil, fmt.Errorf("unknown estimator %q", kind)
	}
	if sample != 7 && sample != 8 {
		return nil, fmt.Errorf("sample size must be 7 or 8, got %d", sample)
	}
	return epipolar.New(epipolar.Config{
		SamplePoints: sample,
		MaxError:     maxError,
		Seed:         seed,
		Workers:      workers,
	}), nil
}

// syntheticScript is a short forward drive with a gentle yaw, handy for
// exercising the full chain without any input data.
func syntheticScript() []pose.Pose {
	yaw := 0.01
	rot := [9]float64{
		math.Cos(yaw), 0, math.Sin(yaw),
		0, 1, 0,
		-math.Sin(yaw), 0, math.Cos(yaw),
	}
	step := pose.New(rot, r3.Vector{X: 0.02, Y: 0, Z: 0.3}.Normalize())
	script := make([]pose.Pose, 30)
	for i := range script {
		script[i] = step
	}
	return script
}

func printSummary(pipe *pipeline.Pipeline) {
	records := pipe.Trajectory().Records()
	gaps := 0
	for _, rec := range records {
		if rec.Missing {
			gaps++
		}
	}
	fmt.Printf("Processed %d frame pairs (%d gaps)\n", len(records), gaps)
	if last, ok := pipe.Trajectory().Last(); ok && last.Pose != nil {
		t := last.Pose.T
		fmt.Printf("Final position: (%.3f, %.3f, %.3f)\n", t.X, t.Y, t.Z)
	}
}
