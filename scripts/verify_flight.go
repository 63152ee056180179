//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bodkin/internal/client"
	"github.com/23skdu/longbow-bodkin/internal/infer"
	"github.com/23skdu/longbow-bodkin/internal/patch"
	"github.com/23skdu/longbow-bodkin/internal/tensor"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Bodkin Flight Server")

	// Retry connection loop
	var c *client.FlightClient
	var err error

	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	// Matches the server's default -in-vol geometry
	vol := patch.Volume{X: 256, Y: 256, Z: 64}
	phantom, err := infer.Phantom(vol, tensor.Int16)
	if err != nil {
		log.Fatal().Err(err).Msg("Phantom generation failed")
	}

	builder := client.NewVolumeRecordBuilder(memory.NewGoAllocator())
	rec, err := builder.Build(phantom, "NDHW")
	if err != nil {
		log.Fatal().Err(err).Msg("Record build failed")
	}
	defer rec.Release()

	log.Info().Str("volume", vol.String()).Msg("Sending volume")

	start := time.Now()
	if err := c.DoPut(context.Background(), "bodkin_dataset", rec); err != nil {
		log.Fatal().Err(err).Msg("DoPut failed")
	}
	elapsed := time.Since(start)

	log.Info().Dur("elapsed", elapsed).Msg("Volume accepted")

	fmt.Println("VERIFICATION PASSED")
}
