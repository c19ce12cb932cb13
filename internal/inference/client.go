package inference

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"gonum.org/v1/gonum/mat"

	"github.com/cartridge/geese/internal/geese"
	"github.com/cartridge/geese/internal/model"
)

// Client is a model.Model whose network lives in a remote inference server.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// Dial connects to an inference server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to inference server at %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClient uses an existing connection. Close leaves cc open.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Predict implements model.Predictor.
func (c *Client) Predict(ctx context.Context, batch []geese.Observation) (*mat.Dense, []float64, error) {
	if err := model.CheckBatch(batch); err != nil {
		return nil, nil, err
	}

	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, PredictMethod, wrapperspb.Bytes(EncodeBatch(batch)), out); err != nil {
		return nil, nil, fmt.Errorf("remote predict failed: %w", err)
	}

	probs, values, err := DecodePrediction(out.GetValue())
	if err != nil {
		return nil, nil, err
	}
	if len(values) != len(batch) {
		return nil, nil, fmt.Errorf("%w: got %d predictions for %d observations",
			ErrMalformedPayload, len(values), len(batch))
	}
	return probs, values, nil
}

// Built implements model.Model. A remote network is always materialized.
func (c *Client) Built() bool {
	return c.cc != nil
}

// Save implements model.Model; remote networks are persisted by their server.
func (c *Client) Save(path string) error {
	return fmt.Errorf("save %s: %w", path, model.ErrUnsupported)
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
