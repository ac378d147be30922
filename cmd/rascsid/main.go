// Command rascsid is the SCSI target daemon: it owns the bus thread driving
// internal/bus.Controller.Process against a HAL, and the control-plane TCP
// listener that applies commands to the same internal/registry.Registry
// under the same mutex (spec.md §5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rascsi-go/rascsi/internal/bus"
	"github.com/rascsi-go/rascsi/internal/control"
	"github.com/rascsi-go/rascsi/internal/device"
	"github.com/rascsi-go/rascsi/internal/netproto"
	"github.com/rascsi-go/rascsi/internal/registry"
	"github.com/rascsi-go/rascsi/internal/rtsched"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type daemonConfig struct {
	port          int
	imageFolder   string
	logLevel      string
	authToken     string
	cpuAffinity   int
	rtPriority    int
	initialDevices []string
	peripheralBase int64
}

func main() {
	cfg := &daemonConfig{}
	root := &cobra.Command{
		Use:   "rascsid",
		Short: "SCSI target emulation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	root.Flags().IntVar(&cfg.port, "port", 6868, "control protocol TCP port")
	root.Flags().StringVar(&cfg.imageFolder, "image-folder", "/home/pi/images", "default image folder")
	root.Flags().StringVar(&cfg.logLevel, "log-level", "info", "logrus level")
	root.Flags().StringVar(&cfg.authToken, "token", "", "control protocol authentication token")
	root.Flags().IntVar(&cfg.cpuAffinity, "cpu", -1, "pin the bus thread to this cpu, -1 to skip")
	root.Flags().IntVar(&cfg.rtPriority, "rt-priority", 0, "SCHED_FIFO priority for the bus thread, 0 to skip")
	root.Flags().Int64Var(&cfg.peripheralBase, "peripheral-base", 0x3f000000, "BCM peripheral base address")
	root.Flags().StringArrayVar(&cfg.initialDevices, "device", nil, "id:lun:type:file device spec, repeatable")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *daemonConfig) error {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(lvl)
	}

	reg := registry.New(log)
	images := control.NewImageManager(cfg.imageFolder)
	exec := control.NewExecutor(reg, images, cfg.authToken, log)

	ctx, cancel := context.WithCancel(context.Background())
	exec.OnShutdown = func(mode control.ShutdownMode) {
		log.WithField("mode", mode).Info("shutdown requested over control protocol")
		cancel()
	}

	if err := attachInitialDevices(reg, cfg.initialDevices); err != nil {
		return fmt.Errorf("attach initial devices: %w", err)
	}

	svc := &netproto.Service{
		Addr:     fmt.Sprintf(":%d", cfg.port),
		Executor: exec,
		Locker:   reg,
		Log:      log,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	go runBusLoop(ctx, reg, cfg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("signal received, detaching all devices and exiting")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("control service stopped")
		}
	}
	cancel()
	reg.DeleteAll()
	return nil
}

// runBusLoop elevates to real-time priority (if configured) and drives every
// attached controller's Controller.Process call under the registry lock,
// the same single-mutex discipline the control-plane side uses.
func runBusLoop(ctx context.Context, reg *registry.Registry, cfg *daemonConfig, log logrus.FieldLogger) {
	if cfg.rtPriority > 0 {
		if err := rtsched.Elevate(cfg.cpuAffinity, cfg.rtPriority); err != nil {
			log.WithError(err).Warn("could not elevate bus thread priority, continuing at normal priority")
		} else {
			defer rtsched.Release()
		}
	}

	hal, err := bus.NewGPIOHAL(cfg.peripheralBase, defaultPinMap())
	if err != nil {
		log.WithError(err).Error("no GPIO HAL available, bus thread idling")
		<-ctx.Done()
		return
	}
	defer hal.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for id := 0; id < 8; id++ {
			c, ok := reg.FindController(id)
			if !ok {
				continue
			}
			reg.Lock()
			c.Process(hal)
			reg.Unlock()
		}
	}
}

// defaultPinMap matches the original daemon's standard GPIO assignment for
// the RaSCSI adapter board.
func defaultPinMap() bus.PinMap {
	return bus.PinMap{
		BSY: 19, SEL: 22, ATN: 25, ACK: 10, RST: 17, MSG: 6, CD: 23, IO: 9,
		DAT:       [8]int{8, 20, 21, 5, 13, 18, 4, 3},
		DATPARITY: 2,
	}
}

// attachInitialDevices parses --device id:lun:type:file flags the same way
// the original daemon accepts device specs on its command line, running
// them through the same executor path an ATTACH control command would.
func attachInitialDevices(reg *registry.Registry, specs []string) error {
	if len(specs) == 0 {
		return nil
	}
	images := control.NewImageManager("")
	exec := control.NewExecutor(reg, images, "", nil)
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 4)
		if len(parts) < 3 {
			return fmt.Errorf("malformed device spec %q, want id:lun:type[:file]", spec)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("invalid id in %q: %w", spec, err)
		}
		lun, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("invalid lun in %q: %w", spec, err)
		}
		var filename string
		if len(parts) == 4 {
			filename = parts[3]
		}
		result := exec.ProcessCommand(control.Command{
			Operation: control.OpAttach,
			Devices: []control.DeviceSpec{{
				ID:       id,
				LUN:      lun,
				Type:     device.ExtFor(coalesce(parts[2], filename)),
				Filename: filename,
			}},
		})
		if !result.Status {
			return fmt.Errorf("attach %q: %s", spec, result.Message)
		}
	}
	return nil
}

func coalesce(typeHint, filename string) string {
	if typeHint != "" {
		return typeHint
	}
	return filename
}
