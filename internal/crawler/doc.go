// Package crawler defines the shared vocabulary of the catalog crawler: the
// record types, the collaborator interfaces (executor, parser, sink, queue,
// publisher, clock), the error taxonomy and the generic retry helper.
package crawler
