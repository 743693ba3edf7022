// Package localengine implements engine.Engine over the SQLite ledger.
//
// Messages sent from this process are stored as outbound events and
// confirmed through the subscriber's sent callback. Messages from anyone
// else enter through Receive and reach subscribers as received batches.
// Every callback runs on the engine's own dispatch.Queue, which callers
// also use as the engine executor:
//
//	eng := localengine.New(localengine.Config{Store: st})
//	go eng.Run(ctx)
//	sess := session.New(session.Config{Engine: eng, Executor: eng.Queue(), ...})
package localengine
