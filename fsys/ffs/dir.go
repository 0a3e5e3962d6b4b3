package ffs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// ToUpper folds ASCII lower case letters
func ToUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// IntlToUpper also folds the Latin-1 range 0xE0-0xFE, except 0xF7 (division sign)
func IntlToUpper(c byte) byte {
	if c >= 0xe0 && c <= 0xfe && c != 0xf7 {
		return c - 0x20
	}
	return ToUpper(c)
}

func foldFunc(intl bool) func(byte) byte {
	if intl {
		return IntlToUpper
	}
	return ToUpper
}

// HashValue returns the hash table slot of name in a table of htSize slots
func HashValue(name string, intl bool, htSize int) int {
	upper := foldFunc(intl)
	b := stringToLatin1(name)
	hash := uint32(len(b))
	for _, c := range b {
		hash = (hash*13 + uint32(upper(c))) & 0x7ff
	}
	return int(hash % uint32(htSize))
}

// NamesEqual compares two names the way AmigaDOS does
func NamesEqual(a, b string, intl bool) bool {
	x, y := stringToLatin1(a), stringToLatin1(b)
	if len(x) != len(y) {
		return false
	}
	upper := foldFunc(intl)
	for i := range x {
		if upper(x[i]) != upper(y[i]) {
			return false
		}
	}
	return true
}

func validateName(name string, max int) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/:"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidName, name)
	case latin1Len(name) > max:
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidName, name, max)
	}
	for _, r := range name {
		if r > 0xff || r < 0x20 {
			return fmt.Errorf("%w: %q has a character outside Latin-1", ErrInvalidName, name)
		}
	}
	return nil
}

func (v *Volume) maxNameLen() int {
	if v.longNames() {
		return MaxLongNameLen
	}
	return MaxNameLen
}

func (v *Volume) maxCommentLen() int {
	if v.longNames() {
		return MaxLongCommentLen
	}
	return MaxCommentLen
}

// EntryType classifies directory entries
type EntryType int

const (
	EntryRoot EntryType = iota + 1
	EntryDir
	EntryFile
	EntrySoftLink
	EntryHardLinkDir
	EntryHardLinkFile
)

func (t EntryType) String() string {
	switch t {
	case EntryRoot:
		return "root"
	case EntryDir:
		return "dir"
	case EntryFile:
		return "file"
	case EntrySoftLink:
		return "softlink"
	case EntryHardLinkDir:
		return "hardlink-dir"
	case EntryHardLinkFile:
		return "hardlink-file"
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

func entryTypeOf(secType int32) EntryType {
	switch secType {
	case STRoot:
		return EntryRoot
	case STDir:
		return EntryDir
	case STFile:
		return EntryFile
	case STSoftLink:
		return EntrySoftLink
	case STLinkDir:
		return EntryHardLinkDir
	case STLinkFile:
		return EntryHardLinkFile
	}
	return 0
}

// IsDir reports whether the entry can be listed
func (t EntryType) IsDir() bool { return t == EntryRoot || t == EntryDir || t == EntryHardLinkDir }

// Entry is a directory listing record
type Entry struct {
	Type       EntryType
	Name       string
	Comment    string
	Size       uint32
	Access     uint32
	Date       time.Time
	Sector     uint32
	Parent     uint32
	Real       uint32 // hard links
	LinkTarget string // soft links
	SubDir     []Entry
}

func entryFromBlock(e *EntryBlock) Entry {
	return Entry{
		Type:       entryTypeOf(e.SecType),
		Name:       e.Name,
		Comment:    e.Comment,
		Size:       e.ByteSize,
		Access:     e.Access,
		Date:       e.Date.Time(),
		Sector:     e.HeaderKey,
		Parent:     e.Parent,
		Real:       e.Real,
		LinkTarget: e.LinkTarget,
	}
}

func entryFromCache(c *CacheEntry, parent uint32) Entry {
	return Entry{
		Type:    entryTypeOf(c.Type),
		Name:    c.Name,
		Comment: c.Comment,
		Size:    c.Size,
		Access:  c.Protect,
		Date:    c.Date.Time(),
		Sector:  c.Header,
		Parent:  parent,
	}
}

// chainLimit bounds hash chain walks on corrupt volumes
func (v *Volume) chainLimit() int { return int(v.TotalBlocks()) }

// getEntryBlock looks name up in dir and returns the entry along with
// the sector of its predecessor in the hash chain (0 if it heads the bucket).
func (v *Volume) getEntryBlock(dir *EntryBlock, name string) (*EntryBlock, uint32, error) {
	h := HashValue(name, v.intl(), len(dir.Index))
	var prev uint32
	for s, n := dir.Index[h], 0; s != 0; n++ {
		if n > v.chainLimit() {
			return nil, 0, &BlockError{Op: "lookup", Sector: dir.HeaderKey, Err: fmt.Errorf("%w: hash chain loop", ErrIO)}
		}
		e, err := v.readEntry(s)
		if err != nil {
			return nil, 0, err
		}
		if NamesEqual(e.Name, name, v.intl()) {
			return e, prev, nil
		}
		prev, s = s, e.NextSameHash
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// createEntry links sector into dir under name, allocating a block when
// sector is 0. The entry block itself is written by the caller.
func (v *Volume) createEntry(dir *EntryBlock, name string, sector uint32) (uint32, error) {
	h := HashValue(name, v.intl(), len(dir.Index))

	var last *EntryBlock
	for s, n := dir.Index[h], 0; s != 0; n++ {
		if n > v.chainLimit() {
			return 0, &BlockError{Op: "create", Sector: dir.HeaderKey, Err: fmt.Errorf("%w: hash chain loop", ErrIO)}
		}
		e, err := v.readEntry(s)
		if err != nil {
			return 0, err
		}
		if NamesEqual(e.Name, name, v.intl()) {
			return 0, fmt.Errorf("%w: %s", ErrEntryAlreadyExists, name)
		}
		last, s = e, e.NextSameHash
	}

	if sector == 0 {
		s, err := v.GetFreeBlock()
		if err != nil {
			return 0, err
		}
		sector = s
	}

	if last == nil {
		dir.Index[h] = sector
	} else {
		last.NextSameHash = sector
		if err := v.writeEntry(last); err != nil {
			return 0, err
		}
	}
	dir.Date = ToAmigaDate(v.now())
	if err := v.writeEntry(dir); err != nil {
		return 0, err
	}
	return sector, nil
}

// unlinkEntry removes e from dir's hash chain. prev is the chain
// predecessor returned by getEntryBlock.
func (v *Volume) unlinkEntry(dir, e *EntryBlock, prev uint32) error {
	if prev == 0 {
		dir.Index[HashValue(e.Name, v.intl(), len(dir.Index))] = e.NextSameHash
	} else {
		p, err := v.readEntry(prev)
		if err != nil {
			return err
		}
		p.NextSameHash = e.NextSameHash
		if err := v.writeEntry(p); err != nil {
			return err
		}
	}
	e.NextSameHash = 0
	dir.Date = ToAmigaDate(v.now())
	return v.writeEntry(dir)
}

// splitPath returns the directory a path starts from and its components.
// "/" or a "volume:" prefix start at the root, anything else at the
// current directory.
func (v *Volume) splitPath(path string) (uint32, []string) {
	start := v.curDir
	if i := strings.IndexByte(path, ':'); i >= 0 {
		path, start = path[i+1:], v.rootSector
	}
	if strings.HasPrefix(path, "/") {
		start = v.rootSector
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return start, parts
}

// walkDirs follows parts from dir, returning the final directory
func (v *Volume) walkDirs(dir *EntryBlock, parts []string) (*EntryBlock, error) {
	for _, p := range parts {
		if p == ".." {
			if dir.SecType != STRoot {
				d, err := v.readDir(dir.Parent)
				if err != nil {
					return nil, err
				}
				dir = d
			}
			continue
		}
		e, _, err := v.getEntryBlock(dir, p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
		}
		if err != nil {
			return nil, err
		}
		if e, err = v.followDirLink(e); err != nil {
			return nil, err
		}
		dir = e
	}
	return dir, nil
}

func (v *Volume) followDirLink(e *EntryBlock) (*EntryBlock, error) {
	switch e.SecType {
	case STDir, STRoot:
		return e, nil
	case STLinkDir:
		return v.readDir(e.Real)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotDirectory, e.Name)
}

// resolveDir returns the directory named by path
func (v *Volume) resolveDir(path string) (*EntryBlock, error) {
	start, parts := v.splitPath(path)
	dir, err := v.readDir(start)
	if err != nil {
		return nil, err
	}
	return v.walkDirs(dir, parts)
}

// resolveParent returns the directory holding the last component of path
// and that component.
func (v *Volume) resolveParent(path string) (*EntryBlock, string, error) {
	start, parts := v.splitPath(path)
	if len(parts) == 0 || parts[len(parts)-1] == ".." {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidName, path)
	}
	dir, err := v.readDir(start)
	if err != nil {
		return nil, "", err
	}
	dir, err = v.walkDirs(dir, parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	return dir, parts[len(parts)-1], nil
}

// resolve returns the entry block named by path, or the root
func (v *Volume) resolve(path string) (*EntryBlock, error) {
	start, parts := v.splitPath(path)
	if len(parts) == 0 || parts[len(parts)-1] == ".." {
		return v.resolveDir(path)
	}
	dir, err := v.readDir(start)
	if err != nil {
		return nil, err
	}
	if dir, err = v.walkDirs(dir, parts[:len(parts)-1]); err != nil {
		return nil, err
	}
	e, _, err := v.getEntryBlock(dir, parts[len(parts)-1])
	return e, err
}

// ReadEntries lists the directory at path
func (v *Volume) ReadEntries(path string, recursive bool) ([]Entry, error) {
	dir, err := v.resolveDir(path)
	if err != nil {
		if v.ignoreErrors && errors.Is(err, fs.ErrNotExist) {
			v.logf("read entries %s: %v", path, err)
			return nil, nil
		}
		return nil, err
	}
	return v.readEntries(dir, recursive)
}

// ListEntries lists the current directory
func (v *Volume) ListEntries(recursive bool) ([]Entry, error) {
	dir, err := v.readDir(v.curDir)
	if err != nil {
		return nil, err
	}
	return v.readEntries(dir, recursive)
}

func (v *Volume) readEntries(dir *EntryBlock, recursive bool) ([]Entry, error) {
	if v.usesDirCache() && dir.Extension != 0 {
		return v.readEntriesCached(dir, recursive)
	}

	var out []Entry
	for _, s := range dir.Index {
		for n := 0; s != 0; n++ {
			if n > v.chainLimit() {
				return nil, &BlockError{Op: "list", Sector: dir.HeaderKey, Err: fmt.Errorf("%w: hash chain loop", ErrIO)}
			}
			e, err := v.readEntry(s)
			if err != nil {
				if v.ignoreErrors {
					v.logf("list %s: %v", dir.Name, err)
					break
				}
				return nil, err
			}
			ent := entryFromBlock(e)
			if recursive && e.SecType == STDir {
				sub, err := v.readEntries(e, true)
				if err != nil {
					return nil, err
				}
				ent.SubDir = sub
			}
			out = append(out, ent)
			s = e.NextSameHash
		}
	}
	return out, nil
}

func (v *Volume) readEntriesCached(dir *EntryBlock, recursive bool) ([]Entry, error) {
	recs, err := v.readDirEntCache(dir)
	if err != nil {
		if !v.ignoreErrors {
			return nil, err
		}
		v.logf("list %s: %v", dir.Name, err)
	}
	out := make([]Entry, 0, len(recs))
	for i := range recs {
		ent := entryFromCache(&recs[i], dir.HeaderKey)
		if recursive && recs[i].Type == STDir {
			d, err := v.readDir(recs[i].Header)
			if err == nil {
				ent.SubDir, err = v.readEntries(d, true)
			}
			if err != nil {
				if !v.ignoreErrors {
					return nil, err
				}
				v.logf("list %s: %v", recs[i].Name, err)
			}
		}
		out = append(out, ent)
	}
	return out, nil
}

// Stat returns the entry at path. The root is reported as EntryRoot.
func (v *Volume) Stat(path string) (Entry, error) {
	e, err := v.resolve(path)
	if err != nil {
		return Entry{}, err
	}
	ent := entryFromBlock(e)
	if e.SecType == STRoot {
		ent.Date = v.root.RootAltered.Time()
	}
	return ent, nil
}

// ChangeDirectory moves the current directory
func (v *Volume) ChangeDirectory(path string) error {
	dir, err := v.resolveDir(path)
	if err != nil {
		return err
	}
	v.curDir = dir.HeaderKey
	return nil
}

// CurrentDirectory returns the absolute path of the current directory
func (v *Volume) CurrentDirectory() (string, error) {
	var names []string
	for s, n := v.curDir, 0; s != v.rootSector; n++ {
		if n > v.chainLimit() {
			return "", fmt.Errorf("%w: parent loop", ErrIO)
		}
		d, err := v.readDir(s)
		if err != nil {
			return "", err
		}
		names = append([]string{d.Name}, names...)
		s = d.Parent
	}
	return "/" + strings.Join(names, "/"), nil
}

// CreateFile creates an empty file
func (v *Volume) CreateFile(path string) error {
	_, err := v.create(path, STFile)
	return err
}

// CreateDirectory creates an empty directory
func (v *Volume) CreateDirectory(path string) error {
	_, err := v.create(path, STDir)
	return err
}

// create allocates every block the new entry needs before touching any
// directory structure, so a full disk leaves the volume unmodified.
func (v *Volume) create(path string, secType int32) (*EntryBlock, error) {
	if err := v.checkWritable(); err != nil {
		return nil, err
	}
	parent, name, err := v.resolveParent(path)
	if err != nil {
		return nil, err
	}
	if err := validateName(name, v.maxNameLen()); err != nil {
		return nil, err
	}
	if _, _, err := v.getEntryBlock(parent, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryAlreadyExists, name)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	n := 1
	withCache := secType == STDir && v.usesDirCache()
	if withCache {
		n = 2
	}
	secs, err := v.GetFreeBlocks(n)
	if err != nil {
		return nil, err
	}

	e := newEntryBlock(v.blockSize, secs[0], secType)
	e.Name = name
	e.Parent = parent.HeaderKey
	e.Date = ToAmigaDate(v.now())
	if withCache {
		e.Extension = secs[1]
		if err := v.createEmptyCache(e, secs[1]); err != nil {
			return nil, err
		}
	}
	if err := v.writeEntry(e); err != nil {
		return nil, err
	}
	if _, err := v.createEntry(parent, name, e.HeaderKey); err != nil {
		return nil, err
	}
	if v.usesDirCache() {
		if err := v.addInCache(parent, e); err != nil {
			return nil, err
		}
	}
	return e, v.UpdateBitmap()
}

// Delete removes a file, an empty directory or a link
func (v *Volume) Delete(path string) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	parent, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	e, prev, err := v.getEntryBlock(parent, name)
	if err != nil {
		return err
	}
	if e.NextLink != 0 && (e.SecType == STFile || e.SecType == STDir) {
		return fmt.Errorf("%w: %s has hard links", ErrIO, name)
	}

	var freed []uint32
	switch e.SecType {
	case STDir:
		for _, s := range e.Index {
			if s != 0 {
				return fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, name)
			}
		}
		if v.usesDirCache() {
			cache, err := v.dirCacheChain(e)
			if err != nil {
				return err
			}
			freed = append(freed, cache...)
		}
		if e.HeaderKey == v.curDir {
			v.curDir = parent.HeaderKey
		}
	case STFile:
		if _, _, err := v.getFileBlocks(e); err != nil {
			return err
		}
	case STLinkFile, STLinkDir:
		if err := v.unlinkHardLink(e); err != nil {
			return err
		}
	}

	if err := v.unlinkEntry(parent, e, prev); err != nil {
		return err
	}
	if e.SecType == STFile {
		if err := v.freeFileBlocks(e); err != nil {
			return err
		}
	}
	if e.CommentBlock != 0 {
		freed = append(freed, e.CommentBlock)
	}
	freed = append(freed, e.HeaderKey)
	for _, s := range freed {
		v.SetBlockFree(s)
	}
	if v.usesDirCache() {
		if err := v.deleteFromCache(parent, e.HeaderKey); err != nil {
			return err
		}
	}
	return v.UpdateBitmap()
}

// unlinkHardLink removes link from the NextLink list of its target
func (v *Volume) unlinkHardLink(link *EntryBlock) error {
	e, err := v.readEntry(link.Real)
	if err != nil {
		return err
	}
	for n := 0; e.NextLink != 0; n++ {
		if n > v.chainLimit() {
			return fmt.Errorf("%w: link chain loop", ErrIO)
		}
		if e.NextLink == link.HeaderKey {
			e.NextLink = link.NextLink
			return v.writeEntry(e)
		}
		if e, err = v.readEntry(e.NextLink); err != nil {
			return err
		}
	}
	v.logf("link %s not found in chain of %d", link.Name, link.Real)
	return nil
}

// Rename moves or renames an entry. Both paths may name different directories.
func (v *Volume) Rename(oldPath, newPath string) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	src, oldName, err := v.resolveParent(oldPath)
	if err != nil {
		return err
	}
	dst, newName, err := v.resolveParent(newPath)
	if err != nil {
		return err
	}
	if err := validateName(newName, v.maxNameLen()); err != nil {
		return err
	}
	if src.HeaderKey == dst.HeaderKey {
		dst = src
	}
	e, prev, err := v.getEntryBlock(src, oldName)
	if err != nil {
		return err
	}

	sameDir := src == dst
	if !(sameDir && NamesEqual(e.Name, newName, v.intl())) {
		if _, _, err := v.getEntryBlock(dst, newName); err == nil {
			return fmt.Errorf("%w: %s", ErrPathAlreadyExists, newPath)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if e.SecType == STDir && !sameDir {
		for s, n := dst.HeaderKey, 0; s != v.rootSector; n++ {
			if s == e.HeaderKey {
				return fmt.Errorf("%w: cannot move %s into itself", ErrInvalidName, oldName)
			}
			if n > v.chainLimit() {
				return fmt.Errorf("%w: parent loop", ErrIO)
			}
			d, err := v.readDir(s)
			if err != nil {
				return err
			}
			s = d.Parent
		}
	}

	if err := v.unlinkEntry(src, e, prev); err != nil {
		return err
	}
	// dst may have been e's hash chain predecessor and was rewritten by the unlink.
	if !sameDir {
		if dst, err = v.readDir(dst.HeaderKey); err != nil {
			return err
		}
	}
	e.Name = newName
	e.Parent = dst.HeaderKey
	if err := v.storeComment(e); err != nil {
		return err
	}
	if err := v.writeEntry(e); err != nil {
		return err
	}
	if _, err := v.createEntry(dst, newName, e.HeaderKey); err != nil {
		return err
	}
	if v.usesDirCache() {
		if err := v.deleteFromCache(src, e.HeaderKey); err != nil {
			return err
		}
		if err := v.addInCache(dst, e); err != nil {
			return err
		}
	}
	return v.UpdateBitmap()
}

// storeComment moves a long name comment between the header and a
// comment block depending on whether it still fits inline.
func (v *Volume) storeComment(e *EntryBlock) error {
	if !v.longNames() {
		return nil
	}
	if inlineCommentFits(e.Name, e.Comment) {
		if e.CommentBlock != 0 {
			v.SetBlockFree(e.CommentBlock)
			e.CommentBlock = 0
		}
		return nil
	}
	if e.CommentBlock == 0 {
		s, err := v.GetFreeBlock()
		if err != nil {
			return err
		}
		e.CommentBlock = s
	}
	c := &CommentBlock{HeaderKey: e.CommentBlock, OwnKey: e.HeaderKey, Comment: e.Comment}
	return v.writeBlock(e.CommentBlock, c.Build(v.blockSize))
}

// modify applies fn to the entry at path and writes it back along with
// its cache record.
func (v *Volume) modify(path string, fn func(e *EntryBlock) error) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	e, err := v.resolve(path)
	if err != nil {
		return err
	}
	if e.SecType == STRoot {
		return fmt.Errorf("%w: cannot modify the root", ErrInvalidName)
	}
	if err := fn(e); err != nil {
		return err
	}
	if err := v.writeEntry(e); err != nil {
		return err
	}
	if v.usesDirCache() {
		if err := v.updateCache(e.Parent, e); err != nil {
			return err
		}
	}
	return v.UpdateBitmap()
}

// SetComment sets the comment of an entry
func (v *Volume) SetComment(path, comment string) error {
	if latin1Len(comment) > v.maxCommentLen() {
		return fmt.Errorf("%w: comment longer than %d characters", ErrInvalidName, v.maxCommentLen())
	}
	return v.modify(path, func(e *EntryBlock) error {
		e.Comment = comment
		return v.storeComment(e)
	})
}

// SetProtectionBits sets the access bits of an entry
func (v *Volume) SetProtectionBits(path string, access uint32) error {
	return v.modify(path, func(e *EntryBlock) error {
		e.Access = access
		return nil
	})
}

// SetDate sets the modification date of an entry
func (v *Volume) SetDate(path string, t time.Time) error {
	return v.modify(path, func(e *EntryBlock) error {
		e.Date = ToAmigaDate(t)
		return nil
	})
}
