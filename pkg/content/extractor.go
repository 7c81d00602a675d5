package content

import (
	"fmt"
	"net/url"
	"strings"

	"lmsfetch/pkg/domain"
)

// Selectors for the portal's page structure
const (
	// CourseCardSelector matches one course card on the profile page.
	CourseCardSelector = ".media-body"
	// ActivitySelector matches one activity on a course page.
	ActivitySelector = ".activityinstance"

	courseHeadingSelector   = "h5"
	courseLinkSelector      = "a"
	activityAnchorSelector  = "a.aalink"
	activityNameSelector    = ".instancename"
	activityDetailsSelector = ".resourcelinkdetails"
)

// CourseCard holds the fields read from one course card element.
// Empty strings mean the element was missing.
type CourseCard struct {
	Heading string
	Href    string
}

// ActivitySnapshot holds the fields read from one activity element.
// Empty strings mean the element was missing.
type ActivitySnapshot struct {
	Href    string
	Name    string
	Details string
}

// extensionRule maps resource details text to a file type.
// Rules are checked in order and the first match wins.
type extensionRule struct {
	keywords []string
	fileType domain.FileType
}

var extensionRules = []extensionRule{
	{keywords: []string{"pdf"}, fileType: domain.FileTypePDF},
	{keywords: []string{"word", "document"}, fileType: domain.FileTypeWord},
	{keywords: []string{"powerpoint", "presentation"}, fileType: domain.FileTypePowerPoint},
	{keywords: []string{"excel", "spreadsheet"}, fileType: domain.FileTypeExcel},
}

// FileTypeFor infers the file type from an activity's resource details text.
// Matching is case-insensitive substring matching; text that matches no rule
// yields FileTypeUnknown and the activity is not downloadable.
func FileTypeFor(details string) domain.FileType {
	text := strings.ToLower(strings.TrimSpace(details))
	for _, rule := range extensionRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.fileType
			}
		}
	}
	return domain.FileTypeUnknown
}

// CourseFromCard maps a course card to a Course.
// It returns false when the card lacks a heading or a link carrying an "id" parameter.
func CourseFromCard(card CourseCard, pageURL string) (domain.Course, bool) {
	name := strings.TrimSpace(card.Heading)
	if name == "" || strings.TrimSpace(card.Href) == "" {
		return domain.Course{}, false
	}

	link, err := resolveURL(card.Href, pageURL)
	if err != nil {
		return domain.Course{}, false
	}

	id := link.Query().Get("id")
	if id == "" {
		return domain.Course{}, false
	}

	return domain.Course{Name: name, ID: id}, true
}

// ResourceFromActivity maps an activity snapshot to a Resource.
// It returns false when the activity has no download link or its details text
// does not resolve to a known file type.
func ResourceFromActivity(snap ActivitySnapshot, pageURL string) (domain.Resource, bool) {
	if strings.TrimSpace(snap.Href) == "" {
		return domain.Resource{}, false
	}

	fileType := FileTypeFor(snap.Details)
	if fileType == domain.FileTypeUnknown {
		return domain.Resource{}, false
	}

	link, err := resolveURL(snap.Href, pageURL)
	if err != nil {
		return domain.Resource{}, false
	}

	return domain.Resource{
		DownloadURL: link.String(),
		FileName:    domain.SanitizeFileName(strings.TrimSpace(snap.Name)) + fileType.Extension(),
		Type:        fileType,
	}, true
}

// ExtractCourses reads every course card fragment and keeps the complete ones in document order.
func ExtractCourses(fragments []string, pageURL string) ([]domain.Course, error) {
	courses := make([]domain.Course, 0, len(fragments))
	for i, fragment := range fragments {
		card, err := ReadCourseCard(fragment)
		if err != nil {
			return nil, fmt.Errorf("failed to read course card %d: %w", i+1, err)
		}
		if course, ok := CourseFromCard(card, pageURL); ok {
			courses = append(courses, course)
		}
	}
	return courses, nil
}

// ExtractResources reads every activity fragment and keeps the downloadable ones in document order.
func ExtractResources(fragments []string, pageURL string) ([]domain.Resource, error) {
	resources := make([]domain.Resource, 0, len(fragments))
	for i, fragment := range fragments {
		snap, err := ReadActivity(fragment)
		if err != nil {
			return nil, fmt.Errorf("failed to read activity %d: %w", i+1, err)
		}
		if resource, ok := ResourceFromActivity(snap, pageURL); ok {
			resources = append(resources, resource)
		}
	}
	return resources, nil
}

// resolveURL resolves href against pageURL, leaving absolute hrefs untouched
func resolveURL(href, pageURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() || pageURL == "" {
		return parsed, nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(parsed), nil
}
