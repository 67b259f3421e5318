package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	detect "github.com/go-noisechisel/noisechisel"
	"github.com/go-noisechisel/noisechisel/search"
	"github.com/go-noisechisel/noisechisel/store"
)

var logger *zap.Logger

// imageFile is the on-disk sidecar form of a detect.Image: image decoding
// (FITS, TIFF, ...) is out of this core's scope, so run/run-batch take a
// pre-decoded grid plus its per-tile sky/std statistics as plain JSON,
// the same family of format this module already speaks for every other
// side-channel (store.WriteJson, store.WriteSNTable).
type imageFile struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type tileStatsFile struct {
	TileShape    []int     `json:"tile_shape"`
	CountPerAxis []int     `json:"count_per_axis"`
	Sky          []float32 `json:"sky"`
	Std          []float32 `json:"std"`
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func parseShape(s string) (detect.Shape, error) {
	parts := strings.Split(s, ",")
	shape := make(detect.Shape, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid shape component %q: %w", p, err)
		}
		shape[i] = v
	}
	return shape, nil
}

// runDetection processes a single pre-decoded image through the full
// pipeline and writes the labeled result plus its S/N table to outdir_uri.
func runDetection(image_uri, sky_uri, std_uri, tile_shape_str, outdir_uri, config_uri string, detsnminarea int, detquant, dthresh float64, dilate int) error {
	runID := uuid.New()
	logger.Info("processing image", zap.String("uri", image_uri), zap.String("run_id", runID.String()))

	var imgFile imageFile
	if err := readJSON(image_uri, &imgFile); err != nil {
		return fmt.Errorf("reading image %s: %w", image_uri, err)
	}
	img := &detect.Image{Shape: imgFile.Shape, Data: imgFile.Data}

	var statsFile tileStatsFile
	if err := readJSON(sky_uri, &statsFile); err != nil {
		return fmt.Errorf("reading sky/std stats %s: %w", sky_uri, err)
	}

	tileShape, err := parseShape(tile_shape_str)
	if err != nil {
		return err
	}

	grid, err := detect.NewTileGrid(img.Shape, tileShape)
	if err != nil {
		return err
	}
	sky := &detect.SkyMap{Grid: grid, Data: statsFile.Sky}
	std := &detect.StdMap{Grid: grid, Data: statsFile.Std}

	cfg := detect.DefaultConfig(img.Shape.NDim())
	if detsnminarea > 0 {
		cfg.DetSNMinArea = detsnminarea
	}
	if detquant > 0 {
		cfg.DetQuant = detquant
	}
	if dthresh != 0 {
		cfg.Dthresh = dthresh
	}
	if dilate >= 0 {
		cfg.Dilate = dilate
	}

	pipeline := detect.NewDetectionPipeline(cfg, nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := pipeline.Run(ctx, img, tileShape, sky, std)
	if err != nil {
		return fmt.Errorf("running detection pipeline: %w", err)
	}
	logger.Info("detection finished",
		zap.String("run_id", runID.String()),
		zap.Int("num_final", result.Summary.NumFinal),
		zap.Float32("sn_threshold", result.Summary.SNThreshold))

	_, file := filepath.Split(image_uri)
	file = file + "-" + runID.String()

	config, err := tiledbConfigFor(config_uri)
	if err != nil {
		return err
	}
	defer config.Free()
	ctxdb, err := tiledb.NewContext(config)
	if err != nil {
		return err
	}
	defer ctxdb.Free()

	flat := make([]int32, len(result.Labels.Data))
	for i, l := range result.Labels.Data {
		flat[i] = int32(l)
	}
	shape64 := make([]int64, len(result.Labels.Shape))
	for i, v := range result.Labels.Shape {
		shape64[i] = int64(v)
	}
	runMetadata := struct {
		RunID   string         `json:"run_id"`
		Config  detect.Config  `json:"config"`
		Summary detect.Summary `json:"summary"`
	}{RunID: runID.String(), Config: cfg, Summary: result.Summary}

	labels_uri := filepath.Join(outdir_uri, file+"-labels.tiledb")
	if err := store.WriteDetectionGrid(ctxdb, labels_uri, store.DetectionGrid{Shape: shape64, Data: flat}, runMetadata); err != nil {
		return fmt.Errorf("writing detection grid: %w", err)
	}

	rows := make([]store.SNRow, 0, len(result.SN.Records))
	for lbl, rec := range result.SN.Records {
		if lbl == 0 {
			continue
		}
		rows = append(rows, store.SNRow{Label: int32(lbl), Area: int64(rec.Area), Brightness: rec.Brightness, SN: rec.SN})
	}
	sn_uri := filepath.Join(outdir_uri, file+"-sn.json")
	if _, err := store.WriteSNTable(sn_uri, config_uri, rows); err != nil {
		return fmt.Errorf("writing SN table: %w", err)
	}

	logger.Info("finished image", zap.String("uri", image_uri), zap.String("run_id", runID.String()))
	return nil
}

func tiledbConfigFor(config_uri string) (*tiledb.Config, error) {
	if config_uri == "" {
		return tiledb.NewConfig()
	}
	return tiledb.LoadConfig(config_uri)
}

// runDetectionBatch searches uri for images and runs detection over each
// one concurrently using a fixed worker pool, the same 2*NumCPU pond pool
// shape the teacher's batch GSF conversion uses.
func runDetectionBatch(uri, sky_uri, std_uri, tile_shape_str, outdir_uri, config_uri string, detsnminarea int, detquant, dthresh float64, dilate int) error {
	logger.Info("searching for images", zap.String("uri", uri))
	items := search.FindImages(uri, config_uri)
	logger.Info("images found", zap.Int("count", len(items)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n := runtime.NumCPU() * 2
	pool := pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))
	defer pool.StopAndWait()

	for _, name := range items {
		item_uri := name
		pool.Submit(func() {
			if err := runDetection(item_uri, sky_uri, std_uri, tile_shape_str, outdir_uri, config_uri, detsnminarea, detquant, dthresh, dilate); err != nil {
				logger.Error("image failed", zap.String("uri", item_uri), zap.Error(err))
			}
		})
	}

	return nil
}

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	sharedFlags := []cli.Flag{
		&cli.StringFlag{Name: "sky-uri", Usage: "URI or pathname to a JSON sidecar of per-tile sky/std statistics.", Required: true},
		&cli.StringFlag{Name: "std-uri", Usage: "Unused; sky and std share one sidecar file via --sky-uri."},
		&cli.StringFlag{Name: "tile-shape", Usage: "Comma-separated tile extents, e.g. \"64,64\".", Required: true},
		&cli.StringFlag{Name: "config-uri", Usage: "URI or pathname to a TileDB config file."},
		&cli.StringFlag{Name: "outdir-uri", Usage: "URI or pathname to an output directory."},
		&cli.IntFlag{Name: "detsnminarea", Usage: "Minimum pseudo-detection area to be used for S/N calibration. 0 keeps the default.", Value: 0},
		&cli.Float64Flag{Name: "detquant", Usage: "Quantile of sky pseudo-detection S/N values used as the detection threshold. 0 keeps the default.", Value: 0},
		&cli.Float64Flag{Name: "dthresh", Usage: "Sky-relative sigma threshold for the initial detection. 0 keeps the default.", Value: 0},
		&cli.IntFlag{Name: "dilate", Usage: "Number of dilations applied to true detections. -1 keeps the default.", Value: -1},
	}

	app := &cli.App{
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the detection pipeline over a single pre-decoded image.",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "image-uri", Usage: "URI or pathname to a JSON sidecar of a decoded image.", Required: true},
				}, sharedFlags...),
				Action: func(cCtx *cli.Context) error {
					return runDetection(
						cCtx.String("image-uri"), cCtx.String("sky-uri"), cCtx.String("std-uri"),
						cCtx.String("tile-shape"), cCtx.String("outdir-uri"), cCtx.String("config-uri"),
						cCtx.Int("detsnminarea"), cCtx.Float64("detquant"), cCtx.Float64("dthresh"), cCtx.Int("dilate"))
				},
			},
			{
				Name:  "run-batch",
				Usage: "Run the detection pipeline over every image found under a directory.",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "uri", Usage: "URI or pathname to a directory containing images.", Required: true},
				}, sharedFlags...),
				Action: func(cCtx *cli.Context) error {
					return runDetectionBatch(
						cCtx.String("uri"), cCtx.String("sky-uri"), cCtx.String("std-uri"),
						cCtx.String("tile-shape"), cCtx.String("outdir-uri"), cCtx.String("config-uri"),
						cCtx.Int("detsnminarea"), cCtx.Float64("detquant"), cCtx.Float64("dthresh"), cCtx.Int("dilate"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}
