package session

import (
	"context"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/ValentinKolb/dMux/rpc/conn"
)

// IPool is the connection pool as used by the session
type IPool interface {
	// Acquire checks out a connection to endpoint
	Acquire(ctx context.Context, endpoint string) (*conn.Connection, error)
	// Release checks a connection in
	Release(c *conn.Connection)
	// Health returns the best health score of the connections to endpoint
	Health(endpoint string) (float64, bool)
}

// ICache is the result cache as used by the session. Implementations hand
// out copies, cached messages are never shared with callers.
type ICache interface {
	Get(key string) (*common.Message, bool)
	Set(key string, value *common.Message)
}

// ICrypto seals request frames and opens answer frames
type ICrypto interface {
	// Available fails with CryptoUnavailable if no backend can do the work
	Available() error
	Seal(ctx context.Context, plain []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}
