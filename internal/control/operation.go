// Package control implements the control-plane command executor: parsing,
// validating, and atomically applying attach/detach/insert/eject/protect/
// image-lifecycle operations against the registry (spec.md §4.5, §4.6).
package control

import "github.com/rascsi-go/rascsi/internal/device"

// Operation is the control-protocol operation code (spec.md §6.1).
type Operation int

const (
	OpAttach Operation = iota
	OpDetach
	OpDetachAll
	OpInsert
	OpEject
	OpStart
	OpStop
	OpProtect
	OpUnprotect
	OpLogLevel
	OpDefaultFolder
	OpReserveIDs
	OpCreateImage
	OpDeleteImage
	OpRenameImage
	OpCopyImage
	OpProtectImage
	OpUnprotectImage
	OpShutDown
	OpServerInfo
	OpDevicesInfo
	OpDeviceTypesInfo
	OpVersionInfo
	OpLogLevelInfo
	OpDefaultImageFilesInfo
	OpImageFileInfo
	OpNetworkInterfacesInfo
	OpMappingInfo
	OpOperationInfo
	OpReservedIDsInfo
	OpCheckAuthentication
	OpNoOperation
)

// ErrorCode is the result code carried in a PbResult.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrUnauthorized
	ErrUnknownOperation
	ErrOperation
	ErrLogLevel
	ErrMissingDeviceID
	ErrMissingFilename
	ErrDeviceMissingFilename
	ErrImageInUse
	ErrImageFileInfo
	ErrReservedID
	ErrNonExistingDevice
	ErrNonExistingUnit
	ErrUnknownDeviceType
	ErrMissingDeviceType
	ErrDuplicateID
	ErrDetach
	ErrEjectRequired
	ErrDeviceNameUpdate
	ErrShutdownModeMissing
	ErrShutdownModeInvalid
	ErrShutdownPermission
	ErrFileOpen
	ErrBlockSize
	ErrBlockSizeNotConfigurable
	ErrSCSIController
	ErrInvalidID
	ErrInvalidLUN
	ErrLUN0
	ErrInvalidArgument
)

// ShutdownMode is the SHUT_DOWN command's requested mode parameter.
type ShutdownMode string

const (
	ShutdownProcess      ShutdownMode = "process"
	ShutdownHostShutdown ShutdownMode = "host_shutdown"
	ShutdownHostReboot   ShutdownMode = "host_reboot"
)

// DeviceSpec is one device entry of a PbCommand (spec.md §6.1).
type DeviceSpec struct {
	ID        int
	LUN       int
	Type      device.Type
	BlockSize int
	Vendor    string
	Product   string
	Revision  string
	Protected bool
	Filename  string
	Params    map[string]string
}

// Command is one parsed PbCommand.
type Command struct {
	Operation Operation
	Devices   []DeviceSpec
	Params    map[string]string

	// Locale is the client's requested locale (e.g. "de", "en_US") for
	// rendering Result.Message, per spec.md §7. Empty means en.
	Locale string
}

// Result is the executor's outcome, translated to a PbResult by the
// netproto layer.
type Result struct {
	Status  bool
	Error   ErrorCode
	Message string

	Devices []DeviceView
}

// DeviceView is a read-only snapshot of an attached device for responses
// like DEVICES_INFO / the post-ATTACH-or-DETACH device list.
type DeviceView struct {
	ID        int
	LUN       int
	Type      device.Type
	Vendor    string
	Product   string
	Revision  string
	Ready     bool
	Protected bool
	Removable bool
	Locked    bool
	Stopped   bool
	File      string
	BlockSize int
	Blocks    uint64
}
