// Command rasctl is the control-protocol client: it builds a Command for
// the requested operation, round-trips it over the framed socket, and
// prints the result.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/rascsi-go/rascsi/internal/netproto"
	"github.com/rascsi-go/rascsi/internal/pbwire"
	"github.com/spf13/cobra"
)

type clientConfig struct {
	host  string
	port  int
	token string
}

func main() {
	cfg := &clientConfig{}
	root := &cobra.Command{
		Use:   "rasctl",
		Short: "Control client for rascsid",
	}
	root.PersistentFlags().StringVar(&cfg.host, "host", "localhost", "rascsid host")
	root.PersistentFlags().IntVar(&cfg.port, "port", 6868, "rascsid control port")
	root.PersistentFlags().StringVar(&cfg.token, "token", "", "authentication token")

	root.AddCommand(
		attachCmd(cfg),
		detachCmd(cfg),
		ejectCmd(cfg),
		startStopCmd(cfg, "start", 5),
		startStopCmd(cfg, "stop", 6),
		protectCmd(cfg, "protect", 7),
		protectCmd(cfg, "unprotect", 8),
		listCmd(cfg),
		shutdownCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// operation codes, matching internal/control.Operation's iota ordering.
const (
	opAttach = 0
	opDetach = 1
	opEject  = 4

	opDevicesInfo = 20
	opShutDown    = 18
)

func sendCommand(cfg *clientConfig, cmd pbwire.Command) (pbwire.Result, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", cfg.host, cfg.port))
	if err != nil {
		return pbwire.Result{}, fmt.Errorf("dial %s:%d: %w", cfg.host, cfg.port, err)
	}
	defer conn.Close()

	if cfg.token != "" {
		cmd.Params = append(cmd.Params, pbwire.Param{Key: "token", Value: cfg.token})
	}
	if cmd.Locale == "" {
		cmd.Locale = os.Getenv("LC_MESSAGES")
	}

	if _, err := conn.Write(netproto.Magic[:]); err != nil {
		return pbwire.Result{}, err
	}
	if err := netproto.WriteFrame(conn, pbwire.MarshalCommand(cmd)); err != nil {
		return pbwire.Result{}, err
	}
	payload, err := netproto.ReadFrame(conn, false)
	if err != nil {
		return pbwire.Result{}, err
	}
	return pbwire.UnmarshalResult(payload)
}

func printResult(res pbwire.Result, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if !res.Status {
		fmt.Fprintf(os.Stderr, "command failed (code %d): %s\n", res.Error, res.Message)
		os.Exit(1)
	}
	for _, d := range res.Devices {
		fmt.Printf("id=%d lun=%d type=%d file=%q vendor=%q product=%q protected=%v\n",
			d.ID, d.Unit, d.Type, d.File, d.Vendor, d.Product, d.Protected)
	}
}

func attachCmd(cfg *clientConfig) *cobra.Command {
	var id, lun, blockSize int
	var typ string
	var file string
	c := &cobra.Command{
		Use:   "attach",
		Short: "Attach a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opAttach,
				Devices: []pbwire.Device{{
					ID: int32(id), Unit: int32(lun), File: file,
					Type:      deviceTypeCode(typ),
					BlockSize: int32(blockSize),
				}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().IntVar(&id, "id", 0, "target id")
	c.Flags().IntVar(&lun, "lun", 0, "logical unit number")
	c.Flags().StringVar(&typ, "type", "", "device type (hd, hdr, mo, cd, bridge, daynaport, printer, services)")
	c.Flags().StringVar(&file, "file", "", "backing image filename")
	c.Flags().IntVar(&blockSize, "block-size", 0, "sector size in bytes (512, 1024, 2048, or 4096)")
	return c
}

func detachCmd(cfg *clientConfig) *cobra.Command {
	var id, lun int
	c := &cobra.Command{
		Use:   "detach",
		Short: "Detach a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opDetach,
				Devices:   []pbwire.Device{{ID: int32(id), Unit: int32(lun)}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().IntVar(&id, "id", 0, "target id")
	c.Flags().IntVar(&lun, "lun", 0, "logical unit number")
	return c
}

func ejectCmd(cfg *clientConfig) *cobra.Command {
	var id, lun int
	c := &cobra.Command{
		Use:   "eject",
		Short: "Eject the medium from a removable device",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opEject,
				Devices:   []pbwire.Device{{ID: int32(id), Unit: int32(lun)}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().IntVar(&id, "id", 0, "target id")
	c.Flags().IntVar(&lun, "lun", 0, "logical unit number")
	return c
}

func startStopCmd(cfg *clientConfig, name string, opcode int32) *cobra.Command {
	var id, lun int
	c := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s a device", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opcode,
				Devices:   []pbwire.Device{{ID: int32(id), Unit: int32(lun)}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().IntVar(&id, "id", 0, "target id")
	c.Flags().IntVar(&lun, "lun", 0, "logical unit number")
	return c
}

func protectCmd(cfg *clientConfig, name string, opcode int32) *cobra.Command {
	var id, lun int
	c := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s a device", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opcode,
				Devices:   []pbwire.Device{{ID: int32(id), Unit: int32(lun)}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().IntVar(&id, "id", 0, "target id")
	c.Flags().IntVar(&lun, "lun", 0, "logical unit number")
	return c
}

func listCmd(cfg *clientConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List attached devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{Operation: opDevicesInfo})
			printResult(res, err)
			return nil
		},
	}
}

func shutdownCmd(cfg *clientConfig) *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:   "shutdown",
		Short: "Shut down rascsid",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := sendCommand(cfg, pbwire.Command{
				Operation: opShutDown,
				Params:    []pbwire.Param{{Key: "mode", Value: mode}},
			})
			printResult(res, err)
			return nil
		},
	}
	c.Flags().StringVar(&mode, "mode", "process", "process, host_shutdown or host_reboot")
	return c
}

func deviceTypeCode(name string) int32 {
	switch name {
	case "hd":
		return 1
	case "hdr":
		return 2
	case "mo":
		return 3
	case "cd":
		return 4
	case "bridge":
		return 5
	case "daynaport":
		return 6
	case "printer":
		return 7
	case "services":
		return 8
	default:
		return 0
	}
}
