package control

import (
	"fmt"
	"time"

	"github.com/rascsi-go/rascsi/internal/device"
	"github.com/rascsi-go/rascsi/internal/localize"
	"github.com/rascsi-go/rascsi/internal/registry"
	"github.com/sirupsen/logrus"
)

// Executor applies parsed Commands to a Registry, implementing the two-pass
// dry-run-then-commit contract of spec.md §4.5: every device sub-command is
// validated against current state before any of them are allowed to mutate
// it, and a failure partway through commit rolls the image reservation table
// back to its pre-command snapshot.
type Executor struct {
	reg       *registry.Registry
	images    *ImageManager
	log       logrus.FieldLogger
	authToken string

	// OnShutdown, if set, is invoked after a successful SHUT_DOWN command so
	// the daemon main loop can tear down the bus thread and exit. It runs
	// after the result has been built, never before.
	OnShutdown func(ShutdownMode)
}

func NewExecutor(reg *registry.Registry, images *ImageManager, authToken string, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{reg: reg, images: images, authToken: authToken, log: log}
}

// localeKeyFor maps the codes that have a spec.md §7 catalog entry to their
// localize.Key. Codes absent from this table (internal/plumbing errors like
// ErrSCSIController, ErrInvalidArgument) always render in English via
// fmt.Sprintf, same as before locale support existed.
var localeKeyFor = map[ErrorCode]localize.Key{
	ErrUnauthorized:             localize.ErrAuthentication,
	ErrOperation:                localize.ErrOperation,
	ErrLogLevel:                 localize.ErrLogLevel,
	ErrMissingDeviceID:          localize.ErrMissingDeviceID,
	ErrMissingFilename:          localize.ErrMissingFilename,
	ErrImageInUse:               localize.ErrImageInUse,
	ErrReservedID:               localize.ErrReservedID,
	ErrNonExistingDevice:        localize.ErrNonExistingDevice,
	ErrNonExistingUnit:          localize.ErrNonExistingUnit,
	ErrUnknownDeviceType:        localize.ErrUnknownDeviceType,
	ErrMissingDeviceType:        localize.ErrMissingDeviceType,
	ErrDuplicateID:              localize.ErrDuplicateID,
	ErrEjectRequired:            localize.ErrEjectRequired,
	ErrDeviceNameUpdate:         localize.ErrDeviceNameUpdate,
	ErrShutdownModeMissing:      localize.ErrShutdownModeMissing,
	ErrShutdownModeInvalid:      localize.ErrShutdownModeInvalid,
	ErrShutdownPermission:       localize.ErrShutdownPermission,
	ErrFileOpen:                 localize.ErrFileOpen,
	ErrBlockSize:                localize.ErrBlockSize,
	ErrBlockSizeNotConfigurable: localize.ErrBlockSizeNotConfigurable,
}

// fail builds a failure Result for code. When code has a localize.Key entry,
// Message is rendered through localize.Message for locale (args are
// stringified and substituted positionally, matching the order they'd have
// filled format's verbs); codes with no catalog entry keep the plain
// fmt.Sprintf rendering, always in English, same as the rest of the daemon's
// internal diagnostics.
func fail(locale string, code ErrorCode, format string, args ...interface{}) Result {
	if key, ok := localeKeyFor[code]; ok {
		strArgs := make([]string, len(args))
		for i, a := range args {
			strArgs[i] = fmt.Sprint(a)
		}
		if msg := localize.Message(locale, key, strArgs...); msg != "" {
			return Result{Status: false, Error: code, Message: msg}
		}
	}
	return Result{Status: false, Error: code, Message: fmt.Sprintf(format, args...)}
}

func ok(devices []DeviceView) Result {
	return Result{Status: true, Devices: devices}
}

// ProcessCommand is the single entry point, mirroring the original's
// process_cmd: an authentication gate, then dispatch by operation.
func (e *Executor) ProcessCommand(cmd Command) Result {
	if requiresAuth(cmd.Operation) && e.authToken != "" {
		if cmd.Params["token"] != e.authToken {
			return fail(cmd.Locale, ErrUnauthorized, "authentication failed")
		}
	}

	switch cmd.Operation {
	case OpAttach:
		return e.attach(cmd)
	case OpDetach:
		return e.detach(cmd)
	case OpDetachAll:
		e.reg.DeleteAll()
		return ok(nil)
	case OpInsert:
		return e.insert(cmd)
	case OpEject:
		return e.forEachDevice(cmd, e.eject)
	case OpStart:
		return e.forEachDevice(cmd, func(d device.Device, _ DeviceSpec) error { return d.Start() })
	case OpStop:
		return e.forEachDevice(cmd, func(d device.Device, _ DeviceSpec) error { return d.Stop() })
	case OpProtect:
		return e.forEachDevice(cmd, func(d device.Device, _ DeviceSpec) error { return e.setProtected(d, true) })
	case OpUnprotect:
		return e.forEachDevice(cmd, func(d device.Device, _ DeviceSpec) error { return e.setProtected(d, false) })
	case OpLogLevel:
		return e.setLogLevel(cmd.Params["level"], cmd.Locale)
	case OpDefaultFolder:
		if cmd.Params["folder"] == "" {
			return fail(cmd.Locale, ErrInvalidArgument, "missing folder")
		}
		e.images.DefaultFolder = cmd.Params["folder"]
		return ok(nil)
	case OpReserveIDs:
		return e.reserveIDs(cmd)
	case OpCreateImage:
		return e.createImage(cmd)
	case OpDeleteImage:
		return e.deleteImage(cmd)
	case OpRenameImage:
		return e.renameImage(cmd)
	case OpCopyImage:
		return e.copyImage(cmd)
	case OpProtectImage:
		return e.protectImage(cmd, true)
	case OpUnprotectImage:
		return e.protectImage(cmd, false)
	case OpShutDown:
		return e.shutDown(cmd)
	case OpDevicesInfo:
		return ok(e.snapshotViews())
	case OpServerInfo, OpDeviceTypesInfo, OpVersionInfo, OpLogLevelInfo,
		OpDefaultImageFilesInfo, OpImageFileInfo, OpNetworkInterfacesInfo,
		OpMappingInfo, OpOperationInfo, OpReservedIDsInfo:
		return ok(e.snapshotViews())
	case OpCheckAuthentication:
		return ok(nil)
	case OpNoOperation:
		return ok(nil)
	default:
		return fail(cmd.Locale, ErrUnknownOperation, "unknown operation %d", cmd.Operation)
	}
}

// requiresAuth mirrors the original's distinction between commands any
// client may issue (read-only queries, CHECK_AUTHENTICATION itself) and
// commands that mutate state, which require the configured token.
func requiresAuth(op Operation) bool {
	switch op {
	case OpServerInfo, OpDevicesInfo, OpDeviceTypesInfo, OpVersionInfo,
		OpLogLevelInfo, OpDefaultImageFilesInfo, OpImageFileInfo,
		OpNetworkInterfacesInfo, OpMappingInfo, OpOperationInfo,
		OpReservedIDsInfo, OpCheckAuthentication, OpNoOperation:
		return false
	default:
		return true
	}
}

// --- attach / detach / insert ---

func (e *Executor) attach(cmd Command) Result {
	if len(cmd.Devices) == 0 {
		return fail(cmd.Locale, ErrMissingDeviceID, "no device specified")
	}
	snapshot := e.reg.Snapshot()

	// I1 counts new and existing devices together: a LUN 0 in this same
	// command satisfies it just as one already in the registry does.
	lun0InCommand := make(map[int]bool)
	for _, spec := range cmd.Devices {
		if spec.LUN == 0 {
			lun0InCommand[spec.ID] = true
		}
	}

	// Dry-run pass: every sub-command must validate before any commits.
	built := make([]device.Device, len(cmd.Devices))
	paths := make([]string, len(cmd.Devices))
	for i, spec := range cmd.Devices {
		d, path, res := e.validateAttach(spec, lun0InCommand[spec.ID], cmd.Locale)
		if !res.Status {
			e.reg.Restore(snapshot)
			return res
		}
		built[i] = d
		paths[i] = path
	}

	// Commit pass.
	for i, spec := range cmd.Devices {
		if paths[i] != "" {
			if err := e.reg.Reserve(paths[i], spec.ID, spec.LUN); err != nil {
				e.reg.Restore(snapshot)
				return fail(cmd.Locale, ErrImageInUse, "%s", err)
			}
		}
		if err := e.reg.AttachDevice(spec.ID, spec.LUN, built[i]); err != nil {
			e.reg.Restore(snapshot)
			return fail(cmd.Locale, ErrSCSIController, "%s", err)
		}
	}
	return ok(e.snapshotViews())
}

// validateAttach runs the dry-run checks for a single ATTACH device_spec: ID
// and LUN bounds, the LUN-0-must-exist invariant (I1, met by a LUN 0 in the
// registry or, when lun0InCommand is set, in the same command), type
// inference, and image-path construction, without mutating the registry.
func (e *Executor) validateAttach(spec DeviceSpec, lun0InCommand bool, locale string) (device.Device, string, Result) {
	if spec.ID < 0 || spec.ID > 7 {
		return nil, "", fail(locale, ErrInvalidID, "invalid target id %d", spec.ID)
	}
	if spec.LUN < 0 || spec.LUN > 31 {
		return nil, "", fail(locale, ErrInvalidLUN, "invalid lun %d", spec.LUN)
	}
	if e.reg.IsReserved(spec.ID) {
		return nil, "", fail(locale, ErrReservedID, "target id %d is reserved", spec.ID)
	}
	if spec.LUN != 0 && !lun0InCommand && !e.reg.HasLUN0(spec.ID) {
		return nil, "", fail(locale, ErrLUN0, "lun 0 must be attached before lun %d on id %d", spec.LUN, spec.ID)
	}
	if _, exists := e.reg.DeviceAt(spec.ID, spec.LUN); exists {
		return nil, "", fail(locale, ErrDuplicateID, "id %d lun %d already in use", spec.ID, spec.LUN)
	}

	typ := spec.Type
	if typ == device.TypeUndefined {
		typ = device.ExtFor(spec.Filename)
	}
	if typ == device.TypeUndefined {
		return nil, "", fail(locale, ErrUnknownDeviceType, "cannot determine device type for %q", spec.Filename)
	}

	d, err := device.New(typ, spec.Filename, nil, e.reg)
	if err != nil {
		return nil, "", fail(locale, ErrUnknownDeviceType, "%s", err)
	}
	d.SetIDLun(spec.ID, spec.LUN)
	if spec.Vendor != "" || spec.Product != "" || spec.Revision != "" {
		if err := d.SetIdentity(device.Identity{Vendor: spec.Vendor, Product: spec.Product, Revision: spec.Revision}); err != nil {
			return nil, "", fail(locale, ErrInvalidArgument, "%s", err)
		}
	}
	d.Init(spec.Params)

	var path string
	if disk, isDisk := device.IsDiskLike(d); isDisk {
		if disk.Capabilities().SupportsFile && spec.Filename != "" {
			resolved, err := e.images.resolve(spec.Filename)
			if err != nil {
				return nil, "", fail(locale, ErrFileOpen, "%s", err)
			}
			if owner, reserved := e.reg.IsReservedPath(resolved); reserved && owner != (registry.Owner{ID: spec.ID, LUN: spec.LUN}) {
				return nil, "", fail(locale, ErrImageInUse, "image %s is already in use", resolved)
			}
			if err := disk.Attach(resolved, spec.Protected); err != nil {
				return nil, "", fail(locale, ErrFileOpen, "%s", err)
			}
			path = resolved
		}
		if spec.BlockSize != 0 {
			shift, ok := sectorShiftForBlockSize(spec.BlockSize)
			if !ok {
				return nil, "", fail(locale, ErrBlockSize, "unsupported block size %d", spec.BlockSize)
			}
			if !disk.SetConfiguredSectorSize(shift) {
				return nil, "", fail(locale, ErrBlockSizeNotConfigurable, "block size is not configurable for this device")
			}
		}
	}
	return d, path, ok(nil)
}

func (e *Executor) detach(cmd Command) Result {
	for _, spec := range cmd.Devices {
		if _, exists := e.reg.DeviceAt(spec.ID, spec.LUN); !exists {
			return fail(cmd.Locale, ErrNonExistingUnit, "no device at id %d lun %d", spec.ID, spec.LUN)
		}
		if spec.LUN == 0 && e.reg.HasOtherLUNs(spec.ID, 0) {
			return fail(cmd.Locale, ErrLUN0, "lun 0 on id %d cannot be detached while other luns remain attached", spec.ID)
		}
	}
	for _, spec := range cmd.Devices {
		e.reg.RemoveLUN(spec.ID, spec.LUN)
	}
	return ok(e.snapshotViews())
}

func (e *Executor) insert(cmd Command) Result {
	return e.forEachDevice(cmd, func(d device.Device, spec DeviceSpec) error {
		disk, isDisk := device.IsDiskLike(d)
		if !isDisk {
			return fmt.Errorf("device does not support media insertion")
		}
		if d.State().Ready {
			return fmt.Errorf("medium already present")
		}
		if spec.Filename == "" {
			return fmt.Errorf("missing filename")
		}
		path, err := e.images.resolve(spec.Filename)
		if err != nil {
			return err
		}
		if owner, reserved := e.reg.IsReservedPath(path); reserved && owner != (registry.Owner{ID: spec.ID, LUN: spec.LUN}) {
			return fmt.Errorf("image %s is already in use", path)
		}
		if err := disk.Attach(path, spec.Protected); err != nil {
			return err
		}
		return e.reg.Reserve(path, spec.ID, spec.LUN)
	})
}

func (e *Executor) eject(d device.Device, _ DeviceSpec) error {
	if !d.Eject(false) {
		return fmt.Errorf("eject failed: device locked or not removable")
	}
	return nil
}

func (e *Executor) setProtected(d device.Device, protected bool) error {
	if !d.Capabilities().Protectable {
		return fmt.Errorf("device does not support write protection")
	}
	d.State().Protected = protected
	return nil
}

// forEachDevice runs fn over every device_spec in cmd, dry-running nothing
// beyond existence checks (these operations have no filesystem side effects
// to roll back, unlike attach).
func (e *Executor) forEachDevice(cmd Command, fn func(device.Device, DeviceSpec) error) Result {
	if len(cmd.Devices) == 0 {
		return fail(cmd.Locale, ErrMissingDeviceID, "no device specified")
	}
	devices := make([]device.Device, len(cmd.Devices))
	for i, spec := range cmd.Devices {
		d, exists := e.reg.DeviceAt(spec.ID, spec.LUN)
		if !exists {
			return fail(cmd.Locale, ErrNonExistingUnit, "no device at id %d lun %d", spec.ID, spec.LUN)
		}
		devices[i] = d
	}
	for i, spec := range cmd.Devices {
		if err := fn(devices[i], spec); err != nil {
			return fail(cmd.Locale, ErrOperation, "%s", err)
		}
	}
	return ok(e.snapshotViews())
}

// --- reserved IDs / log level ---

func (e *Executor) reserveIDs(cmd Command) Result {
	ids := make([]int, len(cmd.Devices))
	for i, spec := range cmd.Devices {
		ids[i] = spec.ID
	}
	if err := e.reg.SetReservedIDs(ids); err != nil {
		return fail(cmd.Locale, ErrReservedID, "%s", err)
	}
	return ok(nil)
}

func (e *Executor) setLogLevel(level, locale string) Result {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fail(locale, ErrLogLevel, "invalid log level %q", level)
	}
	if std, ok := e.log.(*logrus.Logger); ok {
		std.SetLevel(lvl)
	} else {
		logrus.SetLevel(lvl)
	}
	return ok(nil)
}

// --- image lifecycle ---

func (e *Executor) imageReservedCheck(path string) error {
	if owner, ok := e.reg.IsReservedPath(path); ok {
		return fmt.Errorf("image is in use by id %d lun %d", owner.ID, owner.LUN)
	}
	return nil
}

func (e *Executor) createImage(cmd Command) Result {
	name, size, ro := cmd.Params["file"], parseSize(cmd.Params["size"]), cmd.Params["read_only"] == "true"
	if name == "" {
		return fail(cmd.Locale, ErrMissingFilename, "missing filename")
	}
	if err := e.images.Create(name, size, ro); err != nil {
		return fail(cmd.Locale, ErrFileOpen, "%s", err)
	}
	return ok(nil)
}

func (e *Executor) deleteImage(cmd Command) Result {
	name := cmd.Params["file"]
	if name == "" {
		return fail(cmd.Locale, ErrMissingFilename, "missing filename")
	}
	if err := e.images.Delete(name, e.imageReservedCheck); err != nil {
		return fail(cmd.Locale, ErrImageInUse, "%s", err)
	}
	return ok(nil)
}

func (e *Executor) renameImage(cmd Command) Result {
	from, to := cmd.Params["file"], cmd.Params["to"]
	if from == "" || to == "" {
		return fail(cmd.Locale, ErrMissingFilename, "missing filename")
	}
	if err := e.images.Rename(from, to); err != nil {
		return fail(cmd.Locale, ErrFileOpen, "%s", err)
	}
	return ok(nil)
}

func (e *Executor) copyImage(cmd Command) Result {
	from, to := cmd.Params["file"], cmd.Params["to"]
	if from == "" || to == "" {
		return fail(cmd.Locale, ErrMissingFilename, "missing filename")
	}
	ro := cmd.Params["read_only"] == "true"
	if err := e.images.Copy(from, to, ro); err != nil {
		return fail(cmd.Locale, ErrFileOpen, "%s", err)
	}
	return ok(nil)
}

func (e *Executor) protectImage(cmd Command, protect bool) Result {
	name := cmd.Params["file"]
	if name == "" {
		return fail(cmd.Locale, ErrMissingFilename, "missing filename")
	}
	if err := e.images.SetProtected(name, protect); err != nil {
		return fail(cmd.Locale, ErrFileOpen, "%s", err)
	}
	return ok(nil)
}

func parseSize(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

// sectorShiftForBlockSize converts a client-facing byte count into the shift
// exponent Disk.SetConfiguredSectorSize expects.
func sectorShiftForBlockSize(size int) (int, bool) {
	switch size {
	case 512:
		return 9, true
	case 1024:
		return 10, true
	case 2048:
		return 11, true
	case 4096:
		return 12, true
	default:
		return 0, false
	}
}

// --- shutdown ---

func (e *Executor) shutDown(cmd Command) Result {
	mode := ShutdownMode(cmd.Params["mode"])
	switch mode {
	case ShutdownProcess, ShutdownHostShutdown, ShutdownHostReboot:
	case "":
		return fail(cmd.Locale, ErrShutdownModeMissing, "missing shutdown mode")
	default:
		return fail(cmd.Locale, ErrShutdownModeInvalid, "invalid shutdown mode %q", mode)
	}
	res := ok(nil)
	if e.OnShutdown != nil {
		go func() {
			time.Sleep(50 * time.Millisecond)
			e.OnShutdown(mode)
		}()
	}
	return res
}

// --- read-only snapshots ---

func (e *Executor) snapshotViews() []DeviceView {
	entries := e.reg.AllDevices()
	views := make([]DeviceView, 0, len(entries))
	for _, ent := range entries {
		d := ent.Device
		view := DeviceView{
			ID:        ent.ID,
			LUN:       ent.LUN,
			Type:      d.Type(),
			Ready:     d.State().Ready,
			Protected: d.State().Protected,
			Removable: d.Capabilities().Removable,
			Locked:    d.State().Locked,
			Stopped:   d.State().Stopped,
		}
		id := d.Identity()
		view.Vendor, view.Product, view.Revision = id.Vendor, id.Product, id.Revision
		if disk, isDisk := device.IsDiskLike(d); isDisk {
			view.File = disk.ImagePath()
			view.BlockSize = disk.SectorSize()
			view.Blocks = disk.BlockCount()
		}
		views = append(views, view)
	}
	return views
}
