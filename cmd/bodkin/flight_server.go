package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-bodkin/internal/client"
)

type BodkinFlightServer struct {
	flight.BaseFlightServer
	srv   *Server
	alloc memory.Allocator
}

func NewBodkinFlightServer(srv *Server) *BodkinFlightServer {
	return &BodkinFlightServer{
		srv:   srv,
		alloc: memory.NewGoAllocator(),
	}
}

func (s *BodkinFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

// DoPut ingests volume records and runs each through the inference
// pipeline. Results flow onward through the server's publisher.
func (s *BodkinFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()

		vol, _, err := client.DecodeVolume(rec)
		if err != nil {
			log.Warn().Err(err).Msg("DoPut record is not a volume, skipping")
			continue
		}
		if _, err := s.srv.ingestDecoded(stream.Context(), vol); err != nil {
			return err
		}
		log.Info().Int64("rows", rec.NumRows()).Msg("DoPut volume processed")
	}
	return reader.Err()
}

func StartFlightServer(addr string, srv *Server) {
	// Create the generic Flight Server which manages the GRPC lifecycle
	server := flight.NewFlightServer()

	// Register our custom service implementation
	server.RegisterFlightService(NewBodkinFlightServer(srv))

	// Init handles the listener creation internally
	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Bodkin Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
