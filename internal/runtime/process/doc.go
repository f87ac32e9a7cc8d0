// Package process spawns worker processes by re-executing the running binary
// with the hidden worker subcommand.
//
// The worker spec is written to the child's stdin as one CBOR item. The shared
// metrics region is inherited as fd 3 and the report pipe as fd 4. Each worker
// runs in its own process group so termination signals also reach helpers it
// starts. Linux only: the child is killed when the supervisor dies through
// the parent-death signal.
package process
