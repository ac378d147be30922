package control

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// ImageManager implements the CREATE/DELETE/RENAME/COPY/PROTECT/UNPROTECT
// image-file operations of spec.md §4.6, against a configured default image
// folder and hierarchy-depth limit.
type ImageManager struct {
	DefaultFolder string
	MaxDepth      int // default 1
}

func NewImageManager(defaultFolder string) *ImageManager {
	return &ImageManager{DefaultFolder: defaultFolder, MaxDepth: 1}
}

// resolve validates the hierarchy depth and resolves a relative filename
// against the default image folder; absolute paths must start with
// "/home/".
func (m *ImageManager) resolve(filename string) (string, error) {
	if strings.Count(filename, "/") > m.MaxDepth && !filepath.IsAbs(filename) {
		return "", fmt.Errorf("%q exceeds the maximum folder depth", filename)
	}
	if filepath.IsAbs(filename) {
		if !strings.HasPrefix(filename, "/home/") {
			return "", fmt.Errorf("absolute image paths must start with /home/")
		}
		return filename, nil
	}
	return filepath.Join(m.DefaultFolder, filename), nil
}

// Create implements CREATE_IMAGE: size must be >=512 and a multiple of 512.
func (m *ImageManager) Create(filename string, size int64, readOnly bool) error {
	path, err := m.resolve(filename)
	if err != nil {
		return err
	}
	if size < 512 || size%512 != 0 {
		return fmt.Errorf("size must be a positive multiple of 512")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent folders: %w", err)
	}
	mode := os.FileMode(0664)
	if readOnly {
		mode = 0444
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if uid, gid, ok := ownerFromEnv(); ok {
		_ = os.Chown(path, uid, gid)
	}
	return nil
}

// ownerFromEnv derives the file owner from SUDO_UID when set (spec.md
// §4.6), else falls back to the current process's UID/GID.
func ownerFromEnv() (uid, gid int, ok bool) {
	if s := os.Getenv("SUDO_UID"); s != "" {
		if u, err := strconv.Atoi(s); err == nil {
			if usr, err := user.LookupId(s); err == nil {
				if g, err := strconv.Atoi(usr.Gid); err == nil {
					return u, g, true
				}
			}
			return u, os.Getgid(), true
		}
	}
	return os.Getuid(), os.Getgid(), true
}

// Delete implements DELETE_IMAGE: reservedCheck must return an error if the
// path is currently reserved by any (ID, LUN); empty parent folders are
// removed up to (but not including) the default image folder.
func (m *ImageManager) Delete(filename string, reservedCheck func(path string) error) error {
	path, err := m.resolve(filename)
	if err != nil {
		return err
	}
	if reservedCheck != nil {
		if err := reservedCheck(path); err != nil {
			return err
		}
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for dir != m.DefaultFolder && dir != "." && dir != "/" {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Rename implements RENAME_IMAGE.
func (m *ImageManager) Rename(from, to string) error {
	src, err := m.resolve(from)
	if err != nil {
		return err
	}
	dst, err := m.resolve(to)
	if err != nil {
		return err
	}
	if err := checkSourceRegularOrSymlink(src); err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("file already exists")
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}

// Copy implements COPY_IMAGE: a symlink source is copied as a symlink;
// otherwise bytes are copied and read_only is honored on the destination.
func (m *ImageManager) Copy(from, to string, readOnly bool) error {
	src, err := m.resolve(from)
	if err != nil {
		return err
	}
	dst, err := m.resolve(to)
	if err != nil {
		return err
	}
	fi, err := checkSourceRegularOrSymlinkStat(src)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("file already exists")
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	mode := os.FileMode(0664)
	if readOnly {
		mode = 0444
	}
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

func checkSourceRegularOrSymlink(path string) error {
	_, err := checkSourceRegularOrSymlinkStat(path)
	return err
}

func checkSourceRegularOrSymlinkStat(path string) (os.FileInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("%s does not exist", path)
	}
	if fi.Mode().IsRegular() || fi.Mode()&os.ModeSymlink != 0 {
		return fi, nil
	}
	return nil, fmt.Errorf("%s is not a regular file or symlink", path)
}

// SetProtected toggles PROTECT_IMAGE/UNPROTECT_IMAGE: 0444 when protected,
// 0664 otherwise.
func (m *ImageManager) SetProtected(filename string, protect bool) error {
	path, err := m.resolve(filename)
	if err != nil {
		return err
	}
	mode := os.FileMode(0664)
	if protect {
		mode = 0444
	}
	return os.Chmod(path, mode)
}
