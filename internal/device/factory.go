package device

import "fmt"

// New constructs a device of the given type. filename is consulted only to
// pick a vendor Variant for HD-family devices (e.g. ".hdn" selects the NEC
// preset); callers have already resolved the Type itself via ExtFor.
func New(t Type, filename string, spooler Spooler, lister LunLister) (Device, error) {
	switch t {
	case TypeSCSIHD:
		return NewDisk(TypeSCSIHD, variantFor(filename), lister), nil
	case TypeSCSIHDRemovable:
		return NewDisk(TypeSCSIHDRemovable, VariantGeneric, lister), nil
	case TypeSCSIMO:
		return NewDisk(TypeSCSIMO, VariantGeneric, lister), nil
	case TypeSCSICD:
		return NewDisk(TypeSCSICD, VariantGeneric, lister), nil
	case TypeBridge:
		return NewBridge(lister), nil
	case TypeDaynaPort:
		return NewDaynaPort(lister), nil
	case TypePrinter:
		return NewPrinter(spooler, lister), nil
	case TypeHostServices:
		return NewHostServices(lister), nil
	default:
		return nil, fmt.Errorf("missing device type")
	}
}

func variantFor(filename string) Variant {
	switch extOf(filename) {
	case "hdn":
		return VariantNEC
	case "hdi":
		return VariantApple
	default:
		return VariantGeneric
	}
}

// IsDiskLike reports whether a device is one of the disk-family variants
// (used by the control executor to gate sector-size/insert handling).
func IsDiskLike(d Device) (*Disk, bool) {
	disk, ok := d.(*Disk)
	return disk, ok
}
