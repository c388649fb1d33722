// Package client defines the only route the harness has to server state:
// a Client for entity CRUD, search and actions, and an Executor for shell
// commands on the server host.
//
// Implementations live in subpackages. memory is an in-process server used
// by unit tests and dry runs; rest talks to the Foreman/Katello v2 API;
// sshexec runs commands over SSH. rest retries reads in its transport;
// other clients get the same from WithRetry, which only ever repeats Search
// and Read.
package client
