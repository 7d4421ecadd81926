// Package cmdutil holds the flag defaults shared by the titanh CLIs.
package cmdutil

// DefaultRPC is the local chain node websocket endpoint.
const DefaultRPC = "ws://127.0.0.1:9944"

// DefaultCheckpointDir is where the pinning node keeps its durable state.
const DefaultCheckpointDir = "checkpointing_db"

// DefaultRetries is the per-call retry budget for chain and IPFS RPC.
const DefaultRetries uint8 = 3
