// Package client talks to a toolgate gRPC decision service.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/toolgate/internal/model"
	"github.com/ppiankov/toolgate/internal/server"
)

// DefaultTimeout bounds one RPC when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client connects to a toolgate decision server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a client for addr. Extra dial options are appended after the
// insecure transport credentials.
// Fail-closed: if the server cannot be reached, Check returns a block.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gate: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Check asks the server for a decision. Any transport or encoding failure
// yields a block with reason "gate unreachable: ...".
func (c *Client) Check(ctx context.Context, req model.Request) model.CheckResult {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := server.RequestToStruct(req)
	if err != nil {
		return failClosed(err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.CheckMethod, in, out); err != nil {
		return failClosed(err)
	}
	return server.ResultFromStruct(out)
}

// Reload asks the server to re-read its policy and returns the new hash.
func (c *Client) Reload(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.ReloadMethod, &structpb.Struct{}, out); err != nil {
		return "", err
	}
	return out.GetFields()["policy_hash"].GetStringValue(), nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func failClosed(err error) model.CheckResult {
	return model.CheckResult{
		Allowed:    false,
		Reason:     fmt.Sprintf("gate unreachable: %v", err),
		Stage:      model.StageInternal,
		DecisionID: uuid.NewString(),
		Timestamp:  time.Now().UTC(),
	}
}
