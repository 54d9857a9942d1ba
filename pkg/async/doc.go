// Package async provides a bounded worker pool with panic recovery,
// per-task timeouts and complete error collection.
//
//	errs := async.Batch(ctx, orphans, async.PoolConfig{
//		Workers: 4,
//		Name:    "reconcile-delete",
//		Timeout: 10 * time.Second,
//		Logger:  log,
//	}, deleteOrphan)
//
// Unlike a channel-backed collector, every task error is kept; none are
// dropped under load.
package async
