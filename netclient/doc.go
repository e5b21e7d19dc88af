// Package netclient defines the boundary between the verification harness
// and the messaging network under test.
//
// The harness never talks to a network implementation directly: workers hold
// a Client, open live Subscriptions, and consume the closed Event sum type
// defined here. Any network (the in-process localnet simulator, or an
// adapter over a real client library) satisfies the same interfaces.
package netclient
