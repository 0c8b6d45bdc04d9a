// Package redis keeps a short-lived cache of sent RPC replies in Redis.
//
// RabbitMQ delivers at least once: a receiver that crashes after
// publishing a reply but before acknowledging the request sees the request
// again, and a request replayed from the dead-letter queue may already have
// been answered. With a ReplyCache installed through rpc.WithReplyCache the
// receiver answers such repeats with the stored reply instead of running the
// handler a second time.
//
// Basic usage:
//
//	client, err := redis.NewClient(redis.Config{Host: "localhost", ReplyTTL: time.Hour})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	server := rpc.NewServer(opener, cfg, handler,
//	    rpc.WithReplyCache(redis.NewReplyCache(client)),
//	)
//
// With fx:
//
//	app := fx.New(
//	    fx.Supply(redis.Config{Host: "redis"}),
//	    redis.FXModule,
//	    fx.Provide(fx.Annotate(
//	        func(c *redis.ReplyCache) *redis.ReplyCache { return c },
//	        fx.As(new(rpc.ReplyCache)),
//	    )),
//	    rpc.ServerModule,
//	)
//
// Keys are "<KeyPrefix><queue>:<correlation id>" and expire after ReplyTTL.
// Only successful replies are stored; failed requests are dead-lettered and
// run the handler again when replayed.
package redis
