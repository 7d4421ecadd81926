package chain

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"
)

func codecEncode(v interface{}) ([]byte, error) { return codec.Encode(v) }

func blake2Hash(b []byte) []byte {
	sum := blake2b.Sum256(b)
	return sum[:]
}
