package netproto

import (
	"context"
	"net"

	"github.com/rascsi-go/rascsi/internal/control"
	"github.com/rascsi-go/rascsi/internal/device"
	"github.com/rascsi-go/rascsi/internal/pbwire"
	"github.com/sirupsen/logrus"
)

// Service accepts control connections and drives each one's commands through
// an Executor, serializing access to the shared registry via RegistryLocker
// exactly the way the SCSI bus thread does (spec.md §5).
type Service struct {
	Addr     string
	Executor *control.Executor
	Locker   RegistryLocker
	Log      logrus.FieldLogger
}

// RegistryLocker is satisfied by *registry.Registry; the control-plane
// thread holds this lock for the duration of one command, same as the bus
// thread holds it for one Controller.Process call.
type RegistryLocker interface {
	Lock()
	Unlock()
}

func (s *Service) log() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Serve listens on Addr and handles connections until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log().WithField("addr", s.Addr).Info("control service listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// handleConn reads exactly one command from conn, executes it, writes the
// reply, and closes the connection — spec.md §5's per-connection contract,
// matching rascsi_service.cpp's accept/read/execute/close cycle.
func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.log().WithField("remote", conn.RemoteAddr())

	payload, err := ReadFrame(conn, true)
	if err != nil {
		log.WithError(err).Debug("control connection closed")
		return
	}

	wireCmd, err := pbwire.UnmarshalCommand(payload)
	if err != nil {
		log.WithError(err).Warn("malformed command")
		return
	}
	cmd := fromWireCommand(wireCmd)

	s.Locker.Lock()
	result := s.Executor.ProcessCommand(cmd)
	s.Locker.Unlock()

	reply := pbwire.MarshalResult(toWireResult(result))
	if err := WriteFrame(conn, reply); err != nil {
		log.WithError(err).Warn("write reply failed")
	}
}

func fromWireCommand(w pbwire.Command) control.Command {
	cmd := control.Command{
		Operation: control.Operation(w.Operation),
		Params:    pbwire.ParamsToMap(w.Params),
		Devices:   make([]control.DeviceSpec, len(w.Devices)),
		Locale:    w.Locale,
	}
	for i, d := range w.Devices {
		cmd.Devices[i] = control.DeviceSpec{
			ID:        int(d.ID),
			LUN:       int(d.Unit),
			Type:      device.Type(d.Type),
			BlockSize: int(d.BlockSize),
			Vendor:    d.Vendor,
			Product:   d.Product,
			Revision:  d.Revision,
			Protected: d.Protected,
			Filename:  d.File,
			Params:    pbwire.ParamsToMap(d.Params),
		}
	}
	return cmd
}

func toWireResult(r control.Result) pbwire.Result {
	out := pbwire.Result{
		Status:  r.Status,
		Error:   int32(r.Error),
		Message: r.Message,
		Devices: make([]pbwire.Device, len(r.Devices)),
	}
	for i, v := range r.Devices {
		out.Devices[i] = pbwire.Device{
			ID:        int32(v.ID),
			Unit:      int32(v.LUN),
			Type:      int32(v.Type),
			BlockSize: int32(v.BlockSize),
			File:      v.File,
			Vendor:    v.Vendor,
			Product:   v.Product,
			Revision:  v.Revision,
			Protected: v.Protected,
		}
	}
	return out
}
