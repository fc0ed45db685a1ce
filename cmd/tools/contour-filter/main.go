// contour-filter thresholds an image, finds external contours and prints the
// bounding boxes that pass the configured contour filter. It is used to tune
// the contour_filter section of the configuration against captured frames.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/fieldpose/internal/config"
	"github.com/banshee-data/fieldpose/internal/contours"
	"github.com/banshee-data/fieldpose/internal/contours/cvcontour"
)

func main() {
	var configPath, image string
	var threshold float64
	var areaMin, areaMax float64

	flag.StringVar(&configPath, "config", "", "configuration file to take contour_filter from (default filter if empty)")
	flag.StringVar(&image, "image", "", "image to process")
	flag.Float64Var(&threshold, "threshold", 128, "binary threshold, 0-255")
	flag.Float64Var(&areaMin, "area-min", 0, "override area lower bound (logit space); 0 keeps the configured value")
	flag.Float64Var(&areaMax, "area-max", 0, "override area upper bound (logit space); 0 keeps the configured value")
	flag.Parse()

	if image == "" {
		log.Fatal("-image is required")
	}

	params := contours.DefaultParams()
	if configPath != "" {
		cfg, err := config.LoadEstimatorConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		params = cfg.GetContourFilter()
	}
	if areaMin != 0 {
		params.Area.Min = areaMin
	}
	if areaMax != 0 {
		params.Area.Max = areaMax
	}
	if err := params.Validate(); err != nil {
		log.Fatalf("invalid contour filter: %v", err)
	}

	rects, err := cvcontour.FindInFile(image, float32(threshold), params)
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range rects {
		fmt.Printf("%d,%d %dx%d\n", r.Min.X, r.Min.Y, r.Dx(), r.Dy())
	}
	fmt.Printf("%d contours kept (area %.2f..%.2f, ratio %.2f..%.2f, extent %.1f..%.1f%%)\n",
		len(rects), params.Area.Min, params.Area.Max, params.Ratio.Min, params.Ratio.Max, params.Extent.Min, params.Extent.Max)
}
