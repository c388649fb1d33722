// Package rendezvous provides the named barrier that workers use to share a
// session resource.
//
// Every worker that uses the resource calls Enter before producing it and
// Ready before tearing it down. Enter returns once all parties arrived, so a
// resource is never used by a lone worker that expected company. Ready
// returns once all parties finished with the resource, so nobody tears it
// down while a peer is still in a test. Lock gives one writer exclusive
// access, for fixtures such as an upgrade that mutate the resource.
//
// Local rendezvous synchronize goroutines of one process. A worker names
// itself with WithMember; the Factory is told through Depart when a member
// has no work left, and its barriers stop waiting for members that are away
// and never entered. Stored rendezvous keep their counters in a
// sharedfunc.Storage and work across processes; they count arrivals only.
package rendezvous
