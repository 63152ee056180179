package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// FlightClient ships volume records to a Longbow server over Arrow Flight.
type FlightClient struct {
	fc   flight.Client
	conn *grpc.ClientConn
	addr string
}

// NewFlightClient dials addr without transport security. Longbow servers
// sit on the same trusted network as the compute nodes.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("flight dial %s: %w", addr, err)
	}
	return &FlightClient{
		fc:   flight.NewClientFromConn(conn, nil),
		conn: conn,
		addr: addr,
	}, nil
}

// DoPut streams one record into the named dataset. The dataset path rides
// as the flight descriptor on the first message, and the call drains the
// server's acknowledgements so delivery is confirmed before it returns.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	stream, err := c.fc.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight put %s: %w", c.addr, err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(record.Schema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	})
	if err := wr.Write(record); err != nil {
		return fmt.Errorf("flight put %s into %s: %w", c.addr, datasetName, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("flight put %s into %s: %w", c.addr, datasetName, err)
	}

	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight put %s into %s: %w", c.addr, datasetName, err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("flight put %s into %s: %w", c.addr, datasetName, err)
		}
	}
}

// Close tears down the underlying connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
