// Command ghd is the greenhouse controller daemon: it wires every
// collaborator and component, loads persisted settings, starts the
// network and task runtime, then serves the debug console and the
// HTTP/WebSocket API until asked to stop. It is grounded on the
// teacher's main.go init sequence (logger first, then modules, then
// the task loop) adapted from a single tinygo firmware image into a
// cobra-driven Linux daemon, following Tutu-Engine-tutuengine's
// cmd/<name>/main.go-delegates-to-daemon.New()/Serve() shape and its
// internal/daemon.go signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/openenterprise/greenhouse/config"
	"github.com/openenterprise/greenhouse/credentials"
	"github.com/openenterprise/greenhouse/internal/alert"
	"github.com/openenterprise/greenhouse/internal/api"
	"github.com/openenterprise/greenhouse/internal/bound"
	"github.com/openenterprise/greenhouse/internal/clock"
	"github.com/openenterprise/greenhouse/internal/collab"
	"github.com/openenterprise/greenhouse/internal/collab/fake"
	"github.com/openenterprise/greenhouse/internal/collab/linux"
	"github.com/openenterprise/greenhouse/internal/console"
	"github.com/openenterprise/greenhouse/internal/guard"
	"github.com/openenterprise/greenhouse/internal/heartbeat"
	"github.com/openenterprise/greenhouse/internal/kvstore"
	"github.com/openenterprise/greenhouse/internal/metrics"
	"github.com/openenterprise/greenhouse/internal/msglog"
	"github.com/openenterprise/greenhouse/internal/relay"
	"github.com/openenterprise/greenhouse/internal/report"
	"github.com/openenterprise/greenhouse/internal/runtime"
	"github.com/openenterprise/greenhouse/internal/sensors/light"
	"github.com/openenterprise/greenhouse/internal/sensors/soil"
	"github.com/openenterprise/greenhouse/internal/sensors/temphum"
	"github.com/openenterprise/greenhouse/internal/settings"
	"github.com/openenterprise/greenhouse/version"
)

// relayNames fixes the four relay channels spec.md §3.2/§4.8 assumes
// ("four relays") in a stable, logged order. relayGPIO gives each one
// its own physical pin, per spec.md §5's one-owner-per-GPIO rule.
var (
	relayNames = [4]string{"re0", "re1", "re2", "re3"}
	relayGPIO  = [4]string{"GPIO17", "GPIO27", "GPIO22", "GPIO23"}
)

var (
	flagConfigPath string
	flagDev        bool
)

func main() {
	root := &cobra.Command{
		Use:   "ghd",
		Short: "Greenhouse controller daemon",
		RunE:  run,
	}
	root.Flags().StringVar(&flagConfigPath, "config", "config.toml", "Path to config.toml")
	root.Flags().BoolVar(&flagDev, "dev", false, "Run against in-memory fake drivers instead of real hardware")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ghd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	msgLog := msglog.New(5 * time.Second)
	logger := slog.New(msglog.NewSlogHandler(msgLog, slog.NewTextHandler(os.Stdout, nil), slog.LevelInfo))
	slog.SetDefault(logger)

	logger.Info("ghd:starting", slog.String("version", version.Version), slog.String("git", version.GitSHA))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	blobStore, err := kvstore.OpenSQLiteBlobStore(cfg.SQLitePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer blobStore.Close()
	kv := kvstore.New(blobStore)

	lowRestarter := newLowLevelRestarter()

	clk := clock.New()
	if secOfDay, ok := fetchNTP(cfg.NTPServer()); ok {
		clk.Calibrate(secOfDay)
	}

	saver := settings.New(kv, msgLog, clk, lowRestarter, logger)

	hb := heartbeat.New(logger, saver)
	hb.OnFailure(m.HeartbeatFailed)
	go hb.RunTicker(ctx.Done())

	var network collab.Network
	if flagDev {
		network = fake.NewNetwork()
	} else {
		network = linux.NewNetwork()
	}

	alertc := alert.New(cfg.Alert.Endpoint, credentials.Provider{}, network, hb, saver, logger, m)

	temphumDriver, lightSpectral, lightPhoto, soilDriver, closeBus, err := newSensorDrivers(cfg)
	if err != nil {
		return fmt.Errorf("open sensor drivers: %w", err)
	}
	defer closeBus()

	relays, relayDrivers, err := newRelays(logger, m)
	if err != nil {
		return fmt.Errorf("open relays: %w", err)
	}

	th := temphum.New(temphumDriver, alertc, logger, bound.DefaultConsecCts)
	lt := light.New(lightSpectral, lightPhoto, logger, bound.DefaultConsecCts, 2000)
	sl := soil.New(soilDriver, alertc, logger, bound.DefaultConsecCts)

	th.TempRelay = temphum.RelayAttachment{Relay: relays[0]}
	lt.PhotoRelay = light.RelayAttachment{Relay: relays[1]}

	// Bound-driven control needs its own client slot on the relay it
	// drives, distinct from the daily-timer slot the same relay hands
	// out to the scheduler below: both can hold the relay open or
	// closed, and relay.Relay itself arbitrates between its clients.
	if id, err := relays[0].Acquire("temphum-bound"); err == nil {
		th.TempRelay.ClientID = id
		th.TempRelay.Attached = true
	} else {
		logger.Warn("ghd:relay-acquire-failed", slog.String("relay", relayNames[0]), slog.String("err", err.Error()))
	}
	if id, err := relays[1].Acquire("light-bound"); err == nil {
		lt.PhotoRelay.ClientID = id
		lt.PhotoRelay.Attached = true
	} else {
		logger.Warn("ghd:relay-acquire-failed", slog.String("relay", relayNames[1]), slog.String("err", err.Error()))
	}

	reportSched := report.New(clk, alertc, logger, cfg.StationID)
	reportSched.AddSensor(th, th)
	reportSched.AddSensor(lt, lt)
	reportSched.AddSensor(sl, sl)
	for i, r := range relays {
		reportSched.AddSensor(noopClearable{}, report.RelayReporter{Key: relayNames[i], Reporter: r})
	}

	var schedulerClients [4]relay.ClientID
	for i, r := range relays {
		idx, rr := i, r
		saver.Register(settings.NewRelayCategory(relayNames[i], "relay", relayNames[i], rr, "scheduler", func(id relay.ClientID) {
			schedulerClients[idx] = id
		}))
	}
	saver.Register(settings.NewFuncCategory("temphum", "bounds", "temphum",
		func() map[string]any {
			return map[string]any{
				"temp_cond": int(th.TempAlert.Condition), "temp_trip": th.TempAlert.TripVal,
				"hum_cond": int(th.HumAlert.Condition), "hum_trip": th.HumAlert.TripVal,
			}
		},
		func(data map[string]any) error { return nil },
	))
	saver.Load()

	// saveGuard bounds concurrent access to the settings saver between
	// the routine task's periodic autosave and the console's "save"
	// command, per spec.md §5's one-bounded-wait-mutex-per-shared-
	// component rule.
	saveGuard := guard.New("settings", logger)

	// A fresh relay with no persisted timer never went through
	// RelayCategory.Restore, so it has no scheduler client slot yet;
	// acquire one now so ManageTimer has an id to drive once an
	// operator sets a timer through the console.
	for i, r := range relays {
		if schedulerClients[i] == (relay.ClientID{}) {
			if id, err := r.Acquire("scheduler"); err == nil {
				schedulerClients[i] = id
			}
		}
	}

	// The console's relay on/off command needs its own long-lived client
	// slot per relay, acquired once here rather than per command: a
	// fresh Acquire on every keypress would exhaust the 10-slot table
	// after 10 presses, since a slot only frees on Release.
	var consoleClients [4]relay.ClientID
	for i, r := range relays {
		if id, err := r.Acquire("console"); err == nil {
			consoleClients[i] = id
		} else {
			logger.Warn("ghd:relay-acquire-failed", slog.String("relay", relayNames[i]), slog.String("err", err.Error()))
		}
	}

	rt := runtime.New(hb, logger)
	rt.Register(runtime.Task{Name: "temphum", Period: runtime.PeriodTempHum, Fn: func(ctx context.Context) { th.Sample(ctx) }})
	rt.Register(runtime.Task{Name: "light", Period: runtime.PeriodLight, Fn: func(ctx context.Context) {
		w := clk.Wall()
		sec, _, _ := clk.NowMonotonic()
		lt.Sample(ctx, sec, w.Hour)
	}})
	rt.Register(runtime.Task{Name: "soil", Period: runtime.PeriodSoil, Fn: func(ctx context.Context) { sl.Sample(ctx) }})
	rt.Register(runtime.Task{Name: "routine", Period: runtime.PeriodRoutine, Fn: func(ctx context.Context) {
		wall := clk.Wall()
		weekday := int(time.Now().Weekday())
		for i, r := range relays {
			if err := r.ManageTimer(wall, weekday, schedulerClients[i]); err != nil {
				logger.Warn("ghd:timer-failed", slog.String("relay", relayNames[i]), slog.String("err", err.Error()))
			}
		}
		reportSched.Manage(ctx)
		if err := saveGuard.TryLock(guard.DefaultTimeout); err == nil {
			if err := saver.Save(); err != nil {
				logger.Warn("ghd:autosave-failed", slog.String("err", err.Error()))
			}
			saveGuard.Unlock()
		}
	}})
	rt.Register(runtime.Task{Name: "net", Period: runtime.PeriodNet, Fn: func(ctx context.Context) {
		if !network.IsActive() {
			logger.Warn("ghd:network-down")
		}
	}})

	rt.Start(ctx)
	defer rt.Stop()

	hub := api.NewHub(logger)
	apiSrv := api.New(reportSched, hb, hub, reg, logger)
	httpSrv := &http.Server{Addr: apiAddr(cfg), Handler: apiSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ghd:api-server-failed", slog.String("err", err.Error()))
		}
	}()

	consoleSrv := console.New(consolePassword(), logger)
	registerConsoleCommands(consoleSrv, relays, consoleClients, saver, reportSched, msgLog, lowRestarter, saveGuard)
	ln, err := net.Listen("tcp", consoleAddr(cfg))
	if err != nil {
		return fmt.Errorf("listen console: %w", err)
	}
	go func() {
		if err := consoleSrv.Serve(ln); err != nil {
			logger.Error("ghd:console-server-failed", slog.String("err", err.Error()))
		}
	}()

	logger.Info("ghd:ready", slog.String("api", apiAddr(cfg)), slog.String("console", consoleAddr(cfg)))
	<-ctx.Done()

	logger.Info("ghd:shutting-down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = ln.Close()
	for _, d := range relayDrivers {
		_ = d.SetEnergized(false)
	}
	return nil
}

type noopClearable struct{}

func (noopClearable) ClearAverages() {}

func newLowLevelRestarter() collab.Restarter {
	if flagDev {
		return &fake.Restarter{}
	}
	return linux.Restarter{}
}

// newRelays opens one Driver per relay.New named channel, GPIO on real
// hardware or an in-memory driver under --dev.
func newRelays(logger *slog.Logger, m *metrics.Metrics) ([4]*relay.Relay, []relay.Driver, error) {
	var relays [4]*relay.Relay
	drivers := make([]relay.Driver, 0, 4)
	for i, name := range relayNames {
		var d relay.Driver
		if flagDev {
			d = fake.NewRelayDriver(name, logger)
		} else {
			gd, err := linux.OpenGPIORelayDriver(relayGPIO[i])
			if err != nil {
				return relays, drivers, err
			}
			d = gd
		}
		relays[i] = relay.New(name, d, logger, m)
		drivers = append(drivers, d)
	}
	return relays, drivers, nil
}

// newSensorDrivers opens the I2C bus (or returns fixed fake drivers
// under --dev) and constructs every sensor collaborator driver.
func newSensorDrivers(cfg *config.Config) (collab.TempHumDriver, collab.SpectralDriver, collab.PhotoDriver, collab.SoilDriver, func(), error) {
	if flagDev {
		return fake.TempHumDriver{Values: collab.ShtValues{TempC: 21, Hum: 50}},
			fake.SpectralDriver{},
			fake.PhotoDriver{Value: 1500},
			fake.SoilDriver{},
			func() {},
			nil
	}

	bus, err := linux.OpenBus(cfg.I2C.BusName)
	if err != nil {
		return nil, nil, nil, nil, func() {}, err
	}
	closeBus := func() { _ = bus.Close() }

	const (
		photoADS1115Addr = 0x48
		photoChannel     = 0
		soilADS1115Addr  = 0x49
	)
	return linux.NewTempHumDriver(bus),
		linux.NewSpectralDriver(bus),
		linux.NewPhotoDriver(bus, photoADS1115Addr, photoChannel),
		linux.NewSoilDriver(bus, soilADS1115Addr),
		closeBus,
		nil
}

func apiAddr(cfg *config.Config) string {
	if cfg.API.ListenAddr != "" {
		return cfg.API.ListenAddr
	}
	return ":8080"
}

func consoleAddr(cfg *config.Config) string {
	if cfg.Console.ListenAddr != "" {
		return cfg.Console.ListenAddr
	}
	return ":2323"
}

func consolePassword() string {
	if pw, ok := credentials.ConsolePassword(); ok {
		return pw
	}
	return ""
}

func fetchNTP(server string) (int, bool) {
	// A real station resolves server over NTP; in the absence of a
	// retrieved NTP client library this just seeds the clock from the
	// host's own wall clock, which is already NTP-disciplined on any
	// normal Linux deployment.
	_ = server
	now := time.Now().UTC()
	return now.Hour()*3600 + now.Minute()*60 + now.Second(), true
}

// registerConsoleCommands wires the operator commands spec.md §7
// implies an interactive console needs: relay status/force, settings
// save/restart, and a log tail, generalizing the teacher's fixed
// command switch into console.Server's registered dispatch table.
func registerConsoleCommands(s *console.Server, relays [4]*relay.Relay, consoleClients [4]relay.ClientID, saver *settings.Saver, reportSched *report.Scheduler, msgLog *msglog.Log, restarter collab.Restarter, saveGuard *guard.Mutex) {
	s.Register("status", func(w io.Writer, args []string) error {
		for i, r := range relays {
			fmt.Fprintf(w, "%s: state=%d physical_on=%v\r\n", relayNames[i], r.State(), r.IsPhysicallyOn())
		}
		return nil
	})

	s.Register("relay", func(w io.Writer, args []string) error {
		if len(args) < 2 {
			return fmt.Errorf("usage: relay <name> <on|off|force-off|remove-force>")
		}
		idx := findRelayIndex(args[0])
		if idx < 0 {
			return fmt.Errorf("unknown relay %q", args[0])
		}
		r := relays[idx]
		switch args[1] {
		case "force-off":
			return r.ForceOff()
		case "remove-force":
			r.RemoveForce()
			return nil
		case "on":
			return r.RequestOn(consoleClients[idx])
		case "off":
			return r.RequestOff(consoleClients[idx])
		default:
			return fmt.Errorf("unknown relay action %q", args[1])
		}
	})

	s.Register("report", func(w io.Writer, args []string) error {
		body := reportSched.Snapshot()
		if body == nil {
			return fmt.Errorf("no report compiled yet")
		}
		_, err := w.Write(append(body, '\r', '\n'))
		return err
	})

	s.Register("log", func(w io.Writer, args []string) error {
		n := 512
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil {
				n = v
			}
		}
		_, err := io.WriteString(w, strings.ReplaceAll(msgLog.Tail(n), "\n", "\r\n")+"\r\n")
		return err
	})

	s.Register("save", func(w io.Writer, args []string) error {
		if err := saveGuard.TryLock(guard.DefaultTimeout); err != nil {
			return err
		}
		defer saveGuard.Unlock()
		return saver.Save()
	})

	s.Register("reboot", func(w io.Writer, args []string) error {
		restarter.RestartProcess()
		return nil
	})
}

func findRelayIndex(name string) int {
	for i, n := range relayNames {
		if n == name {
			return i
		}
	}
	return -1
}
