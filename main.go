package main

import (
	"flag"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-transports/lib/config"
	"github.com/go-i2p/go-transports/lib/transport"
	"github.com/go-i2p/go-transports/lib/util/signals"
)

var log = logger.GetGoI2PLogger()

func main() {
	cfgFile := flag.String("config", "", "Path to the config file")
	flag.Parse()
	config.CfgFile = *cfgFile

	log.Debug("parsing transport configuration")
	config.InitConfig()

	go signals.Handle()

	// Transport backends (NTCP2-style, SSU2-style) are registered by the
	// embedding router; a bare manager still runs its timers, key pool and
	// peer bookkeeping, which is enough to exercise a deployment's config.
	cfg := config.TransportsConfigProperties
	tm := transport.NewTransportManager(&cfg)

	log.Debug("starting transport manager")
	if err := tm.Start(); err != nil {
		log.Errorf("failed to start transport manager: %s", err)
		return
	}

	done := make(chan struct{})
	signals.RegisterReloadHandler(func() {
		// picked up on next restart; the running manager keeps its settings
		config.UpdateTransportsConfig()
	})
	signals.RegisterInterruptHandler(func() {
		tm.Stop()
		close(done)
	})
	<-done
	signals.StopHandle()
}
