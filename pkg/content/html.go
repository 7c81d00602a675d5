package content

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ReadCourseCard reads the heading text and link href from the outer HTML of a course card.
func ReadCourseCard(fragment string) (CourseCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return CourseCard{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var card CourseCard
	if heading := doc.Find(courseHeadingSelector).First(); heading.Length() > 0 {
		card.Heading = strings.TrimSpace(heading.Text())
	}
	if href, exists := doc.Find(courseLinkSelector).First().Attr("href"); exists {
		card.Href = href
	}

	return card, nil
}

// ReadActivity reads the download anchor, instance name and resource details
// from the outer HTML of an activity element.
func ReadActivity(fragment string) (ActivitySnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ActivitySnapshot{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var snap ActivitySnapshot
	if href, exists := doc.Find(activityAnchorSelector).First().Attr("href"); exists {
		snap.Href = href
	}
	if name := doc.Find(activityNameSelector).First(); name.Length() > 0 {
		snap.Name = strings.TrimSpace(name.Text())
	}
	if details := doc.Find(activityDetailsSelector).First(); details.Length() > 0 {
		snap.Details = strings.TrimSpace(details.Text())
	}

	return snap, nil
}

// OuterHTMLAll returns the outer HTML of every element in doc matching selector, in document order.
// Renderers that hold a parsed page use it to answer element queries.
func OuterHTMLAll(doc *goquery.Document, selector string) ([]string, error) {
	var fragments []string
	var firstErr error
	doc.Find(selector).Each(func(i int, s *goquery.Selection) {
		if firstErr != nil {
			return
		}
		html, err := goquery.OuterHtml(s)
		if err != nil {
			firstErr = fmt.Errorf("failed to render element %d: %w", i+1, err)
			return
		}
		fragments = append(fragments, html)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return fragments, nil
}
