// Package app wires the topology loader, the credential client, the media
// runtime and the source interpreter together and runs every stream of a
// topology until shut down. It is decoupled from any specific entrypoint.
package app
