//
// Copyright: (C) 2020 Nestybox Inc.  All rights reserved.
//

// Command kerneld boots a reference instance of the kernel core: a
// single-CPU hal/simarch (cpu 0), the boot-pinned Cpt/Pgt/Prc/Thd
// layout bootcfg describes, the per-CPU timer, and a read-only
// introspection socket cmd/kctl talks to.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/rmekernel/bootcfg"
	"github.com/nestybox/rmekernel/config"
)

var log = logrus.WithField("comp", "kerneld")

func main() {
	bootPath := flag.String("boot", "boot.toml", "boot layout document")
	sockPath := flag.String("sock", "/run/rmekernel.sock", "introspection control socket path")
	dropUID := flag.Int("uid", -1, "uid to drop privileges to once the KOT region is allocated (-1: no drop)")
	dropGID := flag.Int("gid", -1, "gid to drop privileges to once the KOT region is allocated (-1: no drop)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	kotTbl, region, err := allocKOT(cfg)
	if err != nil {
		log.Fatalf("kot: %v", err)
	}
	defer region.Close()

	// The KOT region is the one privileged resource kerneld needs open
	// before it can give up root — mirroring shiftfs's elevate-mount-
	// then-drop shape, but inverted: open first, then drop.
	if *dropUID >= 0 {
		if err := dropPrivileges(*dropUID, *dropGID); err != nil {
			log.Fatalf("privilege drop: %v", err)
		}
		log.Infof("dropped privileges to uid=%d gid=%d", *dropUID, *dropGID)
	}

	doc, err := bootcfg.Load(*bootPath)
	if err != nil {
		log.Fatalf("bootcfg: %v", err)
	}

	k, err := boot(cfg, kotTbl, doc)
	if err != nil {
		log.Fatalf("boot: %v", err)
	}
	defer k.stop()

	srv, err := newServer(*sockPath, k.registry)
	if err != nil {
		log.Fatalf("introspection socket: %v", err)
	}
	go srv.serve()
	defer srv.close()

	log.Infof("kerneld up: %d process(es), socket %s", len(doc.Process), *sockPath)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
}
