// Package sdk is the application-writer API for Titanh: capsules,
// containers, documents, app registration and committee administration.
//
// A Client binds a chain connection, a signing account and one IPFS
// gateway. Writes go through the chain at a selectable consistency level;
// content goes to IPFS first and only its cid lands on chain.
package sdk

import (
	"context"
	"fmt"

	"titanh/internal/adapter/chain"
	"titanh/internal/adapter/ipfs"
	"titanh/internal/capsule"
)

// Options configure a Client.
type Options struct {
	// RPC is the chain node websocket endpoint.
	RPC string
	// Seed is the signing account's seed phrase.
	Seed string
	// IpfsRPC is the IPFS gateway used for content upload and reads.
	IpfsRPC string
	// App scopes capsule and container ids. Required for the capsule,
	// container and document APIs.
	App capsule.AppID
	// Retries is the per-call retry budget (default 3).
	Retries uint8
}

// Client is the entry point of the SDK.
type Client struct {
	chain *chain.Client
	ipfs  *ipfs.Client
	app   capsule.AppID
}

// Connect dials the chain and IPFS endpoints.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.RPC == "" {
		return nil, fmt.Errorf("chain rpc endpoint is required")
	}
	if opts.Seed == "" {
		return nil, fmt.Errorf("signing seed is required")
	}
	retries := opts.Retries
	if retries == 0 {
		retries = 3
	}

	chainClient, err := chain.New(ctx, opts.RPC, opts.Seed, retries)
	if err != nil {
		return nil, err
	}

	var ipfsClient *ipfs.Client
	if opts.IpfsRPC != "" {
		ipfsClient, err = ipfs.New([]string{opts.IpfsRPC}, retries)
		if err != nil {
			return nil, err
		}
	}

	return &Client{chain: chainClient, ipfs: ipfsClient, app: opts.App}, nil
}

// Capsules returns the capsule API.
func (c *Client) Capsules() *Capsules { return &Capsules{client: c} }

// Containers returns the container API.
func (c *Client) Containers() *Containers { return &Containers{client: c} }

// Registrar returns the app-registrar API.
func (c *Client) Registrar() *Registrar { return &Registrar{client: c} }

// Committee returns the pinning-committee administration API.
func (c *Client) Committee() *Committee { return &Committee{client: c} }

func (c *Client) requireIPFS() error {
	if c.ipfs == nil {
		return fmt.Errorf("no IPFS gateway configured")
	}
	return nil
}
