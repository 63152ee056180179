//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/infer"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

// Sweeps patch geometries over a fixed volume and prints throughput per
// configuration, to pick a default patch size for a given engine.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	vol := patch.Volume{X: 512, Y: 128, Z: 32}
	cfg := infer.Config{
		InputVolume:        vol,
		OutputVolume:       vol,
		InputType:          tensor.Int16,
		OutputType:         tensor.Int16,
		InputLayout:        "NDHW",
		FinalLayout:        "NDHW",
		EngineInputType:    tensor.Float32,
		EngineOutputType:   tensor.Float32,
		EngineInputLayout:  "NDHW",
		EngineOutputLayout: "NDHW",
	}

	phantom, err := infer.Phantom(vol, cfg.InputType)
	if err != nil {
		log.Fatal().Err(err).Msg("Phantom generation failed")
	}
	in := device.WrapHostBuffer(phantom.Bytes())

	engine, err := infer.NewEngine("smooth", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Engine creation failed")
	}
	exec := infer.NewExecutor(engine)

	for _, size := range []int{0, 64, 128, 256} {
		for _, overlap := range []int{0, 8, 16} {
			if size != 0 && size <= 2*overlap {
				continue
			}
			cfg.PatchSize = size
			cfg.PatchOverlap = overlap

			start := time.Now()
			if _, err := exec.Process(context.Background(), in, cfg); err != nil {
				log.Fatal().Err(err).Int("size", size).Int("overlap", overlap).Msg("Process failed")
			}
			elapsed := time.Since(start)

			fmt.Printf("size=%4d overlap=%2d  %8.1f ms  %6.1f Mvox/s\n",
				size, overlap,
				float64(elapsed.Microseconds())/1000,
				float64(vol.Elements())/elapsed.Seconds()/1e6)
		}
	}
}
