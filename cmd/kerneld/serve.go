//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

package main

import (
	"encoding/json"
	"net"
	"os"

	"github.com/docker/docker/api/types/filters"

	"github.com/nestybox/rmekernel/introspect"
)

// server answers cmd/kctl's snapshot requests over a unix-domain
// socket: one JSON-encoded filters.Args request in, one JSON-encoded
// introspect.Snapshot response out, per connection. A real docker
// daemon answers an HTTP request per domain method instead of a
// single socket round trip; this kernel has exactly one read-only
// query to serve, so the minimal request/response framing stands in
// for the REST surface without pulling in an HTTP server for one verb.
type server struct {
	path string
	ln   net.Listener
	reg  *introspect.Registry
}

func newServer(path string, reg *introspect.Registry) (*server, error) {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &server{path: path, ln: ln, reg: reg}, nil
}

func (s *server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *server) handle(conn net.Conn) {
	defer conn.Close()

	var args filters.Args
	if err := json.NewDecoder(conn).Decode(&args); err != nil {
		log.Warnf("introspection request: %v", err)
		return
	}

	snap := s.reg.Snapshot(args)
	if err := json.NewEncoder(conn).Encode(snap); err != nil {
		log.Warnf("introspection response: %v", err)
	}
}

func (s *server) close() {
	s.ln.Close()
	os.Remove(s.path)
}
