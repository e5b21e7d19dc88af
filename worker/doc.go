// Package worker implements the participant pool of the verification
// harness.
//
// A Worker wraps one network identity as an isolated unit of concurrency:
// it owns exactly one client connection, runs one goroutine subscription
// loop per armed stream kind, and re-emits every inbound event to any
// number of in-process listeners. Workers never share mutable state; two
// workers in the same conversation interact only through the network.
//
// The Manager owns the set of workers for one test scenario: it creates
// them from descriptors, designates the first as the scenario creator, and
// tears the whole pool down in one concurrent sweep.
//
// Example:
//
//	pool, err := worker.NewManager(worker.Config{Network: net, DataDir: dir})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.TerminateAll(true)
//
//	alice, err := pool.CreateWorker("alice-a")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	alice.StartStream(netclient.KindMessage)
package worker
