package domain

// FileType is the document kind inferred from an activity's resource details text.
type FileType string

const (
	FileTypePDF        FileType = "pdf"
	FileTypeWord       FileType = "word"
	FileTypePowerPoint FileType = "powerpoint"
	FileTypeExcel      FileType = "excel"
	FileTypeUnknown    FileType = "unknown"
)

// Extension returns the file extension (with leading dot) for the type,
// or "" for FileTypeUnknown.
func (t FileType) Extension() string {
	switch t {
	case FileTypePDF:
		return ".pdf"
	case FileTypeWord:
		return ".docx"
	case FileTypePowerPoint:
		return ".pptx"
	case FileTypeExcel:
		return ".xlsx"
	default:
		return ""
	}
}

// Resource is one downloadable course material discovered on a course page.
type Resource struct {
	DownloadURL string
	FileName    string
	Type        FileType
}

// fileNameSeparators are replaced in the base name of a downloaded file.
const fileNameSeparators = `/\`

// SanitizeFileName replaces path separators in a file's base name with an
// underscore so the name stays a single path element inside the course folder.
// A base name made only of dots becomes "_".
func SanitizeFileName(base string) string {
	return replaceUnsafe(base, fileNameSeparators)
}

// LedgerKey identifies a downloaded artifact within a course folder.
// The format "<courseFolder>/<fileName>" is what the ledger file stores, one per line.
func LedgerKey(courseFolder, fileName string) string {
	return courseFolder + "/" + fileName
}
