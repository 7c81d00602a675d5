package content

import (
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	errEmptyPDFPath = errors.New("pdf path is empty")
	errNoPDFPages   = errors.New("pdf has no pages")
)

// VerifyPDF checks that the file at path parses as a PDF with at least one page.
// Portals that lose the session tend to answer file links with an HTML login page;
// this catches such responses saved under a .pdf name.
func VerifyPDF(path string) (err error) {
	if path == "" {
		return errEmptyPDFPath
	}

	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("not a valid pdf: %v", r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("not a valid pdf: %w", err)
	}
	defer file.Close()

	if reader.NumPage() < 1 {
		return errNoPDFPages
	}
	return nil
}
