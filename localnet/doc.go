// Package localnet provides an in-process implementation of the netclient
// boundary, used by the harness's own tests and by the CLI when no real
// network is configured.
//
// A Network is a hub relaying between connected clients. The simulation
// keeps the security properties the harness cares about observable:
//
//   - Hub-to-client frames travel through a Noise NN session established at
//     connect time (flynn/noise with ChaCha20-Poly1305 and SHA256).
//   - Message payloads are sealed per conversation with nacl/secretbox;
//     only members holding the conversation key can read them.
//   - Each installation owns a SQLite-backed local state directory holding
//     its identity record and inbound message log.
//
// Delivery within one client is in network order; nothing is ordered across
// clients, matching the guarantees of the real network.
package localnet
