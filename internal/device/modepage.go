package device

// assembleModePages builds the per-page mode-sense payload into an ordered
// map, exactly as the original's mode_page_device.cpp does: every page is
// assembled independently and page 0 (vendor-unique) is emitted last so it
// can see the other pages' combined length if it needs to. We use a slice
// of (code, body) pairs instead of a BTreeMap<page_code,...> since Go has no
// built-in sorted map; the slice is not sorted, pages stay in the order they
// are appended.
type modePage struct {
	code byte
	body []byte
}

func assembleModePages(d *Disk) []modePage {
	var pages []modePage

	// Page 0x08: caching.
	caching := make([]byte, 12)
	caching[0] = 0x08
	caching[1] = 10
	pages = append(pages, modePage{code: 0x08, body: caching})

	// Page 0x03: format device (sector size).
	format := make([]byte, 24)
	format[0] = 0x03
	format[1] = 22
	ss := d.SectorSize()
	format[12] = byte(ss >> 8)
	format[13] = byte(ss)
	pages = append(pages, modePage{code: 0x03, body: format})

	// Page 0x00 (vendor-unique) is assembled last and is always empty here.
	// Host-services does not use this function; it builds its own MODE
	// SENSE reply around page 0x20 (see hostservices.go).
	pages = append(pages, modePage{code: 0x00, body: nil})

	return pages
}

// selectModePages concatenates the requested page (or all pages, for
// 0x3f) in assembly order.
func selectModePages(pages []modePage, want byte) []byte {
	var out []byte
	for _, p := range pages {
		if want != 0x3f && p.code != want {
			continue
		}
		out = append(out, p.body...)
	}
	return out
}
