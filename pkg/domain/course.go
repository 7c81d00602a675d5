package domain

import "strings"

// Course represents one enrolled course as listed on the portal profile page.
// ID is the course identifier carried in the course link's "id" query parameter.
type Course struct {
	Name string
	ID   string
}

// unsafeFolderChars are replaced when a course name is turned into a directory name.
const unsafeFolderChars = `<>:"/\|?*`

// FolderName returns a filesystem-safe directory name for the course.
func (c Course) FolderName() string {
	return SanitizeFolderName(c.Name)
}

// SanitizeFolderName replaces each of < > : " / \ | ? * with an underscore.
// A name made only of dots becomes "_". The result is non-empty for any
// non-empty input and never names the current or parent directory.
func SanitizeFolderName(name string) string {
	return replaceUnsafe(name, unsafeFolderChars)
}

// replaceUnsafe maps every rune of name found in unsafe to '_'
func replaceUnsafe(name, unsafe string) string {
	if name != "" && strings.Trim(name, ".") == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafe, r) {
			return '_'
		}
		return r
	}, name)
}
