package manager

import (
	"context"
	"fmt"

	"mlserve/pkg/types"
)

// RemoteInferer is the part of *remote.Client a remote handle needs.
type RemoteInferer interface {
	InferVersion(ctx context.Context, model, version string, input []byte, params types.Params) (types.Result, error)
	Ready(ctx context.Context, model string) error
}

// RemoteLoader produces handles that delegate to a remote model server.
type RemoteLoader struct {
	client RemoteInferer
}

func NewRemoteLoader(client RemoteInferer) *RemoteLoader { return &RemoteLoader{client: client} }

// Load succeeds once the backend reports the model ready. No local memory
// is held.
func (l *RemoteLoader) Load(ctx context.Context, req LoadRequest) (Handle, error) {
	if l.client == nil {
		return nil, fmt.Errorf("remote backend not configured")
	}
	d := req.Descriptor
	if err := l.client.Ready(ctx, d.RemoteName()); err != nil {
		return nil, fmt.Errorf("remote model %s not ready: %w", d.RemoteName(), err)
	}
	return &remoteHandle{client: l.client, model: d.RemoteName(), version: d.Version}, nil
}

type remoteHandle struct {
	client  RemoteInferer
	model   string
	version string
}

func (h *remoteHandle) Predict(ctx context.Context, input []byte, params types.Params) (types.Result, error) {
	return h.client.InferVersion(ctx, h.model, h.version, input, params)
}

func (h *remoteHandle) MemoryUsage() uint64 { return 0 }

func (h *remoteHandle) Cleanup() error { return nil }
