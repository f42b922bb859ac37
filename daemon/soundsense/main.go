// soundsense drives the sound boards, the breathing valves and the pulse
// pin from the shared physiology segment, in step with the manager's
// heartbeat.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gdamore/tcell/v2"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"simctl/audio"
	"simctl/config"
	"simctl/effector"
	"simctl/gpio"
	"simctl/monitor"
	"simctl/peerstore"
	"simctl/shm"
	"simctl/status"
	"simctl/supervisor"
	"simctl/syncchan"
	"simctl/util"
)

// include these audio drivers:
import (
	_ "simctl/audio/mock"
	"simctl/audio/wavtrigger"
)

var (
	debug       bool
	monitorMode bool
	testMode    bool
	foreground  bool

	// ttys holds the positional serial device arguments.
	ttys []string
)

// parseFlags fills the mode switches and ttys from args.
func parseFlags(args []string) error {
	fs := flag.NewFlagSet("soundsense", flag.ContinueOnError)
	fs.BoolVarP(&debug, "debug", "d", false, "debug: stay in the foreground and echo the log")
	fs.BoolVarP(&monitorMode, "monitor", "m", false, "monitor the shared state only")
	fs.BoolVarP(&testMode, "test", "t", false, "run the valve and pulse self-test")
	fs.BoolVarP(&foreground, "silent", "s", false, "stay in the foreground")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-d] [-m] [-t] [-s] [tty [tty]]\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 2 {
		fs.Usage()
		return fmt.Errorf("at most two serial devices, got %d", fs.NArg())
	}
	ttys = fs.Args()
	return nil
}

// defaultPorts picks the serial device naming used by this board.
func defaultPorts() []string {
	if _, err := os.Stat("/dev/ttyO2"); err == nil {
		return []string{"/dev/ttyO2", "/dev/ttyO4"}
	}
	return []string{"/dev/ttyS2", "/dev/ttyS4"}
}

// portArgs turns "ttyUSB0" style arguments into device paths.
func portArgs(args []string) []string {
	ports := make([]string, 0, len(args))
	for _, a := range args {
		if filepath.IsAbs(a) {
			ports = append(ports, a)
		} else {
			ports = append(ports, "/dev/"+a)
		}
	}
	return ports
}

func main() {
	if err := parseFlags(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if debug {
		cfg.Log.Level = "debug"
	}
	log, err := util.NewLogger(util.LogOptions{
		Level:  cfg.Log.Level,
		Tag:    "soundsense",
		Echo:   debug || monitorMode || testMode || foreground,
		Syslog: cfg.Log.Syslog && !monitorMode,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()
	defer func() {
		if r := recover(); r != nil {
			util.LogPanic(log, r)
			panic(r)
		}
	}()

	log.Info("starting", zap.String("version", util.Version))

	seg, err := shm.Open(cfg.SHM.Path)
	if err != nil {
		log.Error("open shared segment", zap.Error(err))
		return 1
	}
	defer seg.Close()
	seg.SetBusLockPolicy(cfg.SHM.BusLockAttempts, cfg.SHM.BusLockInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if monitorMode {
		return runMonitor(ctx, seg, log)
	}

	sounds, err := effector.LoadSoundList(cfg.Audio.SoundList, log)
	if err != nil {
		log.Error("load sound list", zap.Error(err))
		return 1
	}
	log.Info("sound list", zap.String("path", cfg.Audio.SoundList), zap.Int("sounds", sounds.Len()))

	valves, err := openValves(cfg, log)
	if err != nil {
		log.Error("valves", zap.Error(err))
		return 1
	}

	ports := cfg.Audio.Ports
	if len(ttys) > 0 {
		ports = portArgs(ttys)
	}
	if len(ports) == 0 {
		ports = defaultPorts()
	}
	wavtrigger.Default.Baud = cfg.Audio.Baud
	board, pulseBoard := effector.OpenBoards(ctx, effector.BoardConfig{
		Driver:        cfg.Audio.Driver,
		Ports:         ports,
		OpenAttempts:  cfg.Audio.OpenAttempts,
		RetryInterval: cfg.Audio.RetryInterval,
	}, log)
	defer board.Close()
	if pulseBoard != board {
		defer pulseBoard.Close()
	}

	if err = effector.Startup(ctx, board, pulseBoard, log); err != nil {
		log.Warn("audio startup", zap.Error(err))
	}

	if testMode {
		err = effector.SelfTest(ctx, effector.SelfTestOptions{
			Board:      board,
			PulseBoard: pulseBoard,
			Valves:     valves,
			Cycles:     cfg.Effector.SelfTestCycles,
			Log:        log,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("self-test", zap.Error(err))
			return 1
		}
		return 0
	}

	return runDaemon(ctx, cfg, seg, sounds, valves, board, pulseBoard, log)
}

func runMonitor(ctx context.Context, seg *shm.Segment, log *zap.Logger) int {
	screen, err := tcell.NewScreen()
	if err != nil {
		log.Error("monitor screen", zap.Error(err))
		return 1
	}
	if err = monitor.New(screen, seg, monitor.DefaultInterval).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("monitor", zap.Error(err))
		return 1
	}
	return 0
}

// openValves falls back to a mock backend when sysfs GPIO is missing so the
// sound side still runs on a bench machine.
func openValves(cfg *config.Config, log *zap.Logger) (*gpio.Valves, error) {
	pins := cfg.GPIO.Pins()
	valves, err := gpio.NewValves(gpio.NewSysfs(cfg.GPIO.Root), pins)
	if err == nil {
		return valves, nil
	}
	log.Warn("gpio unavailable, valves are simulated", zap.String("root", cfg.GPIO.Root), zap.Error(err))
	return gpio.NewValves(gpio.NewMock(), pins)
}

func runDaemon(
	ctx context.Context,
	cfg *config.Config,
	seg *shm.Segment,
	sounds *effector.SoundList,
	valves *gpio.Valves,
	board, pulseBoard *audio.Board,
	log *zap.Logger,
) int {
	var peers syncchan.PeerStore
	if cfg.Sync.PeerDB != "" {
		store, err := peerstore.Open(cfg.Sync.PeerDB)
		if err != nil {
			log.Warn("peer store unavailable", zap.String("path", cfg.Sync.PeerDB), zap.Error(err))
		} else {
			defer store.Close()
			peers = store
		}
	}

	target, err := syncchan.LoadConfigFile(cfg.Sync.ConfigFile, log)
	if err != nil {
		log.Warn("manager config unreadable, scanning", zap.String("file", cfg.Sync.ConfigFile), zap.Error(err))
	}

	link := syncchan.New(syncchan.Options{
		Sources:        syncchan.SourcesFor(target, cfg.Sync.Ports, cfg.Sync.Interface, peers),
		ConnectTimeout: cfg.Sync.ConnectTimeout,
		PassDelay:      cfg.Sync.PassDelay,
		ReadTimeout:    cfg.Sync.ReadTimeout,
		Segment:        seg,
		Peers:          peers,
		Log:            log,
	})

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	sched := effector.New(effector.Options{
		Segment:    seg,
		Board:      board,
		PulseBoard: pulseBoard,
		Valves:     valves,
		Sounds:     sounds,
		Ticks:      link,
		Quantum:    cfg.Effector.Quantum,
		Signals:    signals,
		Log:        log,
	})

	tree := supervisor.NewTree(log, supervisor.DefaultTreeConfig())
	tree.AddLinkService(link)
	tree.AddEffectorService(sched)
	if cfg.Status.Listen != "" || cfg.Status.GRPCListen != "" {
		tree.AddAPIService(status.New(status.Options{
			Listen:       cfg.Status.Listen,
			GRPCListen:   cfg.Status.GRPCListen,
			Segment:      seg,
			Sync:         link,
			Effector:     sched,
			PushInterval: cfg.Status.PushInterval,
			Log:          log,
		}))
	}

	if err = tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("supervisor", zap.Error(err))
		return 1
	}
	log.Info("stopped")
	return 0
}
