// Command gen-capture writes a synthetic ECG capture, one sample per line, in
// the format the device streams. Useful as replay input.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/pulse.report/internal/synth"
)

func main() {
	output := flag.String("o", "capture.txt", "output path")
	seconds := flag.Float64("s", 60, "capture length in seconds")
	bpm := flag.Float64("bpm", 72, "heart rate")
	noise := flag.Float64("noise", 0, "noise amplitude relative to the R wave")
	flag.Parse()

	cfg := synth.DefaultConfig()
	cfg.BPM = *bpm
	cfg.Noise = *noise
	ecg := synth.New(cfg)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create %s: %v", *output, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n := int(*seconds * cfg.SamplingRate)
	for i := 0; i < n; i++ {
		fmt.Fprintln(w, ecg.Line())
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d samples at %.0f bpm)", *output, n, cfg.BPM)
}
