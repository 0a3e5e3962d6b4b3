package ffs

// Primary block types (offset 0 of every typed block)
const (
	TypeHeader   = 2
	TypeData     = 8
	TypeList     = 16
	TypeDirCache = 33
	TypeComment  = 64
)

// Secondary types (last long of header blocks)
const (
	STRoot     int32 = 1
	STDir      int32 = 2
	STSoftLink int32 = 3
	STLinkDir  int32 = 4
	STFile     int32 = -3
	STLinkFile int32 = -4
)

// Name and comment limits
const (
	MaxNameLen        = 30
	MaxCommentLen     = 79
	MaxLongNameLen    = 107
	MaxLongCommentLen = 112
)

// DOS type flags (fourth byte of the "DOS" signature)
const (
	FlagFFS      = 1
	FlagIntl     = 2
	FlagDirCache = 4
)

// Bitmap validity flag values stored in the root block
const (
	BitmapValid   int32 = -1
	BitmapInvalid int32 = 0
)

const (
	// MaxBitmapPages is the number of bitmap block pointers held in the root block
	MaxBitmapPages = 25

	// ofsHeaderSize is the size of the OFS data block header
	ofsHeaderSize = 24

	// entryHeaderSize is the size of the fixed head of header-style blocks
	// (type, header key, high seq, table size, first data, checksum)
	entryHeaderSize = 0x18

	// entryTailSize is the size of the fixed tail of header-style blocks
	entryTailSize = 0xc8

	// bootBlockSize is the number of bytes covered by the boot checksum
	bootBlockSize = 1024
)

// Protection bits. RWED are active low, HSPA active high.
const (
	AccessDelete  = 1 << 0
	AccessExecute = 1 << 1
	AccessWrite   = 1 << 2
	AccessRead    = 1 << 3
	AccessArchive = 1 << 4
	AccessPure    = 1 << 5
	AccessScript  = 1 << 6
	AccessHold    = 1 << 7
)

// DosType is the four byte signature at the start of a partition
type DosType uint32

// Common DOS types
const (
	DOS0 DosType = 0x444f5300 + iota // OFS
	DOS1                             // FFS
	DOS2                             // OFS international
	DOS3                             // FFS international
	DOS4                             // OFS dir cache
	DOS5                             // FFS dir cache
	DOS6                             // OFS long names
	DOS7                             // FFS long names
)

func (d DosType) flags() byte { return byte(d) }

// IsDOS reports whether the signature starts with "DOS"
func (d DosType) IsDOS() bool { return d&0xffffff00 == 0x444f5300 }

// IsFFS reports whether data blocks are headerless
func (d DosType) IsFFS() bool { return d.flags()&FlagFFS != 0 }

// IsIntl reports whether names hash with international case folding.
// Dir cache and long name volumes always use international mode.
func (d DosType) IsIntl() bool { return d.flags()&FlagIntl != 0 || d.IsDirCache() || d.IsLongName() }

// IsDirCache reports whether directories carry cache blocks
func (d DosType) IsDirCache() bool { return d.flags() == 4 || d.flags() == 5 }

// IsLongName reports whether entries use 107 character names
func (d DosType) IsLongName() bool { return d.flags() == 6 || d.flags() == 7 }

func (d DosType) String() string {
	b := []byte{byte(d >> 24), byte(d >> 16), byte(d >> 8)}
	return string(b) + "\\" + string('0'+rune(d.flags()))
}

// ParseDosType accepts "DOS3", "DOS\3", "ffs", "ofs-intl" style names
func ParseDosType(s string) (DosType, bool) {
	switch s {
	case "ofs", "OFS":
		return DOS0, true
	case "ffs", "FFS":
		return DOS1, true
	case "ofs-intl":
		return DOS2, true
	case "ffs-intl":
		return DOS3, true
	case "ofs-dc":
		return DOS4, true
	case "ffs-dc":
		return DOS5, true
	case "ofs-lnfs":
		return DOS6, true
	case "ffs-lnfs":
		return DOS7, true
	}
	if len(s) == 4 && s[:3] == "DOS" && s[3] >= '0' && s[3] <= '7' {
		return DOS0 + DosType(s[3]-'0'), true
	}
	if len(s) == 5 && s[:4] == "DOS\\" && s[4] >= '0' && s[4] <= '7' {
		return DOS0 + DosType(s[4]-'0'), true
	}
	return 0, false
}
