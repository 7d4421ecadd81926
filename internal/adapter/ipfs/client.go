// Package ipfs adapts the replicated IPFS gateways bound to a pinning node.
// Every primitive is retried across the gateways round-robin within a fixed
// budget; reference counting of pins is the dispatcher's job, the adapter
// only talks to the daemons.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	shell "github.com/ipfs/go-ipfs-api"

	"titanh/internal/pinning"
)

// MaxReplicas bounds the configured gateway list.
const MaxReplicas = 10

// retryInterval spaces attempts; gateways are local daemons, so failures
// resolve quickly or not at all.
const retryInterval = 500 * time.Millisecond

// Client fans IPFS calls out over the node's replica gateways.
type Client struct {
	shells  []*shell.Shell
	urls    []string
	retries uint64
	next    int
}

// New builds a client over the replica RPC endpoints. retries is the
// failure budget per primitive call.
func New(rpcURLs []string, retries uint8) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no ipfs replicas configured")
	}
	if len(rpcURLs) > MaxReplicas {
		return nil, fmt.Errorf("%d ipfs replicas configured, max is %d", len(rpcURLs), MaxReplicas)
	}
	shells := make([]*shell.Shell, len(rpcURLs))
	for i, url := range rpcURLs {
		shells[i] = shell.NewShell(url)
	}
	return &Client{shells: shells, urls: rpcURLs, retries: uint64(retries)}, nil
}

// withRetry runs op against successive gateways until it succeeds or the
// retry budget is spent.
func (c *Client) withRetry(ctx context.Context, what string, op func(sh *shell.Shell) error) error {
	attempt := func() error {
		sh := c.shells[c.next%len(c.shells)]
		url := c.urls[c.next%len(c.urls)]
		c.next++
		if err := op(sh); err != nil {
			slog.Warn("ipfs call failed", "op", what, "gateway", url, "err", err)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), c.retries),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("ipfs %s: %w", what, err)
	}
	return nil
}

// Add stores content without pinning it and returns the cid.
func (c *Client) Add(ctx context.Context, data []byte) (pinning.Cid, error) {
	var cid string
	err := c.withRetry(ctx, "add", func(sh *shell.Shell) error {
		out, err := sh.Add(bytes.NewReader(data), shell.Pin(false))
		if err != nil {
			return err
		}
		cid = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return pinning.Cid(cid), nil
}

// Cat reads the full content behind a cid.
func (c *Client) Cat(ctx context.Context, cid pinning.Cid) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "cat", func(sh *shell.Shell) error {
		rc, err := sh.Cat(string(cid))
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PinAdd pins a cid recursively on the gateway.
func (c *Client) PinAdd(ctx context.Context, cid pinning.Cid) error {
	return c.withRetry(ctx, "pin", func(sh *shell.Shell) error {
		return sh.Pin(string(cid))
	})
}

// PinRm unpins a cid. An already-absent pin is not an error: the effect the
// caller wants is in place.
func (c *Client) PinRm(ctx context.Context, cid pinning.Cid) error {
	return c.withRetry(ctx, "unpin", func(sh *shell.Shell) error {
		if err := sh.Unpin(string(cid)); err != nil {
			if isNotPinned(err) {
				return nil
			}
			return err
		}
		return nil
	})
}

func isNotPinned(err error) bool {
	var ipfsErr *shell.Error
	if errors.As(err, &ipfsErr) {
		return ipfsErr.Message == "not pinned" || ipfsErr.Message == "not pinned or pinned indirectly"
	}
	return false
}
