// Package client implements the runtime context of the dMux session runtime.
// A Client builds and owns every shared component and is the only place
// that creates and tears them down:
//
//   - the connection pool (rpc/pool), dialing connections with the configured
//     transport factory
//   - the result cache (lib/cache), if enabled
//   - the crypto worker pool (lib/crypto), if enabled
//   - one session (rpc/session) per endpoint, created on first use
//
// Usage Example:
//
//	cfg, _ := common.LoadClientConfig("dmux.yaml")
//	factory, _ := client.NewTransportFactory(cfg.Transport)
//	ser, _ := serializer.New(cfg.Transport.Serializer)
//
//	c, err := client.NewClient(cfg, factory, ser)
//	if err != nil {
//	  log.Fatalf("Invalid configuration: %v", err)
//	}
//	if err := c.Start(ctx); err != nil {
//	  log.Fatalf("Failed to start: %v", err)
//	}
//	defer c.Stop(context.Background())
//
//	resp, err := c.Send(ctx, "", common.NewRequest("users.getMe", nil))
//
// Thread Safety:
//
//	A Client is safe for concurrent use. Stop waits for all sessions and
//	closes the pool, a stopped client cannot be started again.
package client
