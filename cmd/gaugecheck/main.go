// Command gaugecheck locates the boost meter in image files and prints its fill levels.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/GriffinCanCode/boostmeter/internal/config"
	"github.com/GriffinCanCode/boostmeter/internal/gauge"
	"github.com/GriffinCanCode/boostmeter/internal/screen"
)

type result struct {
	File   string       `json:"file"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Scale  float64      `json:"scale"`
	Found  bool         `json:"found"`
	Box    gauge.Box    `json:"box"`
	Levels gauge.Levels `json:"levels"`
	Bar    int          `json:"bar"`
	Tier   gauge.Tier   `json:"tier"`
	Color  gauge.RGB    `json:"color"`
}

func main() {
	scale := flag.Float64("scale", 0, "UI scale (0 derives it from the image size)")
	profilePath := flag.String("profile", "", "Path to a YAML gauge profile")
	asJSON := flag.Bool("json", false, "Print one JSON object per image")
	live := flag.Bool("capture", false, "Analyze one frame from the configured capture source instead of files")
	flag.Parse()

	if flag.NArg() == 0 && !*live {
		fmt.Println("Usage: gaugecheck [-scale N] [-profile file.yaml] [-json] [-capture] <image>...")
		os.Exit(1)
	}

	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load profile: %v\n", err)
		os.Exit(1)
	}
	est, err := gauge.NewEstimator(profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid profile: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	report := func(res result) {
		if *asJSON {
			_ = enc.Encode(res)
			return
		}
		printResult(res)
	}

	if *live {
		res, err := captureOnce(est, *scale)
		if err != nil {
			fmt.Fprintf(os.Stderr, "capture: %v\n", err)
			os.Exit(1)
		}
		report(res)
		return
	}

	failed := false
	for _, path := range flag.Args() {
		res, err := check(est, path, *scale)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		report(res)
	}
	if failed {
		os.Exit(1)
	}
}

func check(est *gauge.Estimator, path string, scale float64) (result, error) {
	img, err := screen.LoadImage(path)
	if err != nil {
		return result{}, err
	}
	return analyze(est, path, gauge.FrameFromImage(img), scale)
}

// captureOnce grabs a frame from the source named by the service configuration.
func captureOnce(est *gauge.Estimator, scale float64) (result, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return result{}, err
	}
	c, err := screen.New(cfg)
	if err != nil {
		return result{}, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := c.CaptureAlways(ctx)
	if err != nil {
		return result{}, err
	}
	return analyze(est, cfg.CaptureSource, f, scale)
}

func analyze(est *gauge.Estimator, name string, f gauge.Frame, scale float64) (result, error) {
	if scale <= 0 {
		scale = gauge.ScaleForFrame(f.Width, f.Height)
	}

	levels, s, err := est.Estimate(f, scale, nil)
	if err != nil {
		return result{}, err
	}
	bar, value, _ := levels.Active()
	tiers := est.Profile().Tiers
	tier := tiers.For(value)
	return result{
		File:   name,
		Width:  f.Width,
		Height: f.Height,
		Scale:  scale,
		Found:  s.Found,
		Box:    s.Box,
		Levels: levels,
		Bar:    bar,
		Tier:   tier,
		Color:  tiers.Color(tier),
	}, nil
}

func printResult(r result) {
	fmt.Printf("=== %s (%dx%d, scale %.3f) ===\n", r.File, r.Width, r.Height, r.Scale)
	if !r.Found {
		fmt.Println("  meter not found")
		return
	}
	fmt.Printf("  bounds: %s\n", r.Box)
	for i, v := range r.Levels {
		marker := ""
		if i == r.Bar && v > 0 {
			marker = fmt.Sprintf("  <- active (%s, #%s)", r.Tier, r.Color)
		}
		fmt.Printf("  bar %d: %5.1f%%%s\n", i+1, v*100, marker)
	}
}
