// Package server implements the encrypted multi-room chat relay.
//
// Each WebSocket connection becomes a Session holding a private AES key. The
// Registry owns every session and room, routes decrypted commands, and fans
// messages out re-encrypted under each recipient's key. The implementation is
// organized into specialized files for configuration, the registry, sessions,
// command routing, broadcasting, and HTTP handlers.
package server
