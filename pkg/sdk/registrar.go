package sdk

import (
	"context"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Registrar creates applications and manages their subscriptions.
type Registrar struct {
	client *Client
}

// CreateApp registers a new application and returns the submission hash.
// The app id is assigned on chain and surfaces in the AppCreated event.
func (r *Registrar) CreateApp(ctx context.Context, level ConsistencyLevel) (types.Hash, error) {
	call, err := r.client.chain.NewCall("AppRegistrar.create_app")
	if err != nil {
		return types.Hash{}, err
	}
	return r.client.chain.Submit(ctx, call, level)
}

// SubscribeToApp opts the signing account into an application.
func (r *Registrar) SubscribeToApp(ctx context.Context, app uint32, level ConsistencyLevel) (types.Hash, error) {
	call, err := r.client.chain.NewCall("AppRegistrar.subscribe_to_app", types.U32(app))
	if err != nil {
		return types.Hash{}, err
	}
	return r.client.chain.Submit(ctx, call, level)
}
