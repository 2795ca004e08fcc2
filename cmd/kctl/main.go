//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Command kctl lists a running kerneld's live processes and threads,
// the way `docker ps --filter` lists containers: repeated -filter
// key=value flags are parsed with the identical
// docker/docker/api/types/filters grammar and sent as the query.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"text/tabwriter"

	"github.com/docker/docker/api/types/filters"

	"github.com/nestybox/rmekernel/introspect"
)

type filterFlags struct {
	args filters.Args
}

func (f *filterFlags) String() string { return "" }

func (f *filterFlags) Set(s string) error {
	args, err := filters.ParseFlag(s, f.args)
	if err != nil {
		return err
	}
	f.args = args
	return nil
}

func main() {
	sockPath := flag.String("sock", "/run/rmekernel.sock", "kerneld introspection socket path")
	ff := &filterFlags{args: filters.NewArgs()}
	flag.Var(ff, "filter", "filter output, e.g. -filter name=init (repeatable)")
	flag.Parse()

	snap, err := query(*sockPath, ff.args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kctl:", err)
		os.Exit(1)
	}
	print(snap)
}

func query(sockPath string, args filters.Args) (introspect.Snapshot, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return introspect.Snapshot{}, fmt.Errorf("dial %s: %w", sockPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(args); err != nil {
		return introspect.Snapshot{}, fmt.Errorf("send query: %w", err)
	}

	var snap introspect.Snapshot
	if err := json.NewDecoder(conn).Decode(&snap); err != nil {
		return introspect.Snapshot{}, fmt.Errorf("read response: %w", err)
	}
	return snap, nil
}

func print(snap introspect.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "PROCESS\tTHREAD\tSTATE\tPRIO\tCPU")
	for _, p := range snap.Processes {
		if len(p.Threads) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", p.Name)
			continue
		}
		for _, t := range p.Threads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", p.Name, t.ID, t.State, t.Priority, t.CPU)
		}
	}
}
