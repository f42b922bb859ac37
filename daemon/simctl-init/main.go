// simctl-init creates the shared physiology segment and seeds its
// power-on values. It runs once at boot, before any other process.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"simctl/config"
	"simctl/shm"
	"simctl/util"
)

func main() {
	debug := flag.BoolP("debug", "d", false, "echo the log to stdout")
	flag.Parse()

	os.Exit(run(*debug))
}

func run(debug bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := util.NewLogger(util.LogOptions{
		Level:  cfg.Log.Level,
		Tag:    "simctl-init",
		Echo:   debug,
		Syslog: cfg.Log.Syslog,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	seg, err := shm.Create(cfg.SHM.Path)
	if err != nil {
		log.Error("create shared segment", zap.String("path", cfg.SHM.Path), zap.Error(err))
		return 1
	}
	defer seg.Close()

	seg.Data().Seed()
	log.Info("shared segment ready",
		zap.String("path", seg.Path()),
		zap.String("version", util.Version))
	return 0
}
