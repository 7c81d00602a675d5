// Package session drives one download run: log in, list courses, let the
// user pick one, then fetch every material the ledger has not seen yet.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"lmsfetch/pkg/config"
	"lmsfetch/pkg/content"
	"lmsfetch/pkg/domain"
	"lmsfetch/pkg/ledger"
	"lmsfetch/pkg/logger"
)

var (
	// ErrLoginFailed wraps every authentication failure.
	ErrLoginFailed = errors.New("login failed")

	// ErrNoCourses is returned when the profile page lists no usable course.
	ErrNoCourses = errors.New("no courses found")

	// ErrSessionFinished is returned when Run is called on a session that already ended.
	ErrSessionFinished = errors.New("session already finished")
)

const selectionQuestion = "Enter the number of the course you want to access: "

// Renderer loads portal pages and answers element queries on the current page.
type Renderer interface {
	Navigate(ctx context.Context, rawURL string) error
	Login(ctx context.Context, form domain.LoginForm) error
	// QueryAll returns the outer HTML of every matching element in document order.
	QueryAll(ctx context.Context, selector string) ([]string, error)
	Location(ctx context.Context) (string, error)
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
	Close() error
}

// Prompter asks the user a question and returns one line of input.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
	Close() error
}

// Fetcher downloads one file with retries.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) (domain.Outcome, error)
}

// Catalog receives a record of every completed download.
type Catalog interface {
	SaveDownload(ctx context.Context, rec *domain.DownloadRecord) error
}

// CookieSink accepts the renderer's session cookies before downloads start.
type CookieSink interface {
	SetCookies(rawURL string, cookies []*http.Cookie) error
}

// Deps are the collaborators of an Orchestrator. Catalog and Cookies are optional.
type Deps struct {
	Renderer Renderer
	Prompter Prompter
	Fetcher  Fetcher
	Catalog  Catalog
	Cookies  CookieSink

	// Out receives user-facing progress lines. Defaults to os.Stdout.
	Out io.Writer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a finished run
type Report struct {
	State      State
	Course     domain.Course
	Found      int
	Downloaded int
	Skipped    int
	Failed     int
}

// Orchestrator runs one session. It is not safe for concurrent use.
type Orchestrator struct {
	cfg   config.Config
	deps  Deps
	state State
	runID string

	ledger *ledger.Ledger
}

// New creates an Orchestrator. It owns deps.Renderer and deps.Prompter from
// here on and closes them when Run returns.
func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		state: StateInit,
		runID: uuid.NewString(),
	}
}

// RunID identifies this run in catalog records
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run executes the session until it is done or aborted. Per-file download
// failures are counted in the Report and do not abort the run. A session
// runs once; later calls return ErrSessionFinished.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if o.state.Terminal() {
		return Report{State: o.state}, ErrSessionFinished
	}
	report := Report{}

	defer func() {
		if err := o.deps.Renderer.Close(); err != nil {
			log.Printf("Session: Failed to close renderer: %v", err)
		}
	}()

	if err := o.run(ctx, &report); err != nil {
		o.transition(StateAborted)
		_ = o.deps.Prompter.Close()
		report.State = o.state
		return report, err
	}

	o.transition(StateDone)
	o.printf("Download process completed!\n")
	report.State = o.state
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, report *Report) error {
	if err := o.init(); err != nil {
		return err
	}

	if err := o.authenticate(ctx); err != nil {
		return err
	}

	courses, err := o.listCourses(ctx)
	if err != nil {
		return err
	}

	course, err := o.selectCourse(ctx, courses)
	if err != nil {
		return err
	}
	report.Course = course

	courseDir := filepath.Join(o.cfg.DownloadDir, course.FolderName())
	if err := os.MkdirAll(courseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create course directory: %w", err)
	}

	resources, pageURL, err := o.enumerate(ctx, course)
	if err != nil {
		return err
	}
	report.Found = len(resources)
	if len(resources) == 0 {
		log.Printf("Session: No downloadable resources for %s", course.Name)
		return nil
	}

	o.shareCookies(ctx, pageURL)
	return o.downloadAll(ctx, course, courseDir, resources, report)
}

func (o *Orchestrator) init() error {
	if err := os.MkdirAll(o.cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	l, err := ledger.Open(o.cfg.LedgerFile)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	o.ledger = l
	logger.Debug("ledger %s holds %d entries", l.Path(), l.Len())
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context) error {
	o.transition(StateAuthenticating)

	if err := o.deps.Renderer.Navigate(ctx, o.cfg.URL(o.cfg.Paths.Login)); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	form := domain.DefaultLoginForm(o.cfg.Username, o.cfg.Password)
	if err := o.deps.Renderer.Login(ctx, form); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	// the portal re-renders the login form when credentials are rejected
	remaining, err := o.deps.Renderer.QueryAll(ctx, form.UsernameSelector)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%w: still on the login page, check username and password", ErrLoginFailed)
	}

	log.Printf("Session: Logged in as %s", o.cfg.Username)
	return nil
}

func (o *Orchestrator) listCourses(ctx context.Context) ([]domain.Course, error) {
	o.transition(StateListingCourses)

	profileURL := o.cfg.URL(o.cfg.Paths.Profile)
	if err := o.deps.Renderer.Navigate(ctx, profileURL); err != nil {
		return nil, fmt.Errorf("failed to open profile page: %w", err)
	}

	cards, err := o.deps.Renderer.QueryAll(ctx, content.CourseCardSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to query course cards: %w", err)
	}
	o.printf("Found %d courses\n", len(cards))

	courses, err := content.ExtractCourses(cards, o.location(ctx, profileURL))
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 {
		return nil, ErrNoCourses
	}

	for i, c := range courses {
		o.printf("%d. %s\n", i+1, c.Name)
	}
	return courses, nil
}

func (o *Orchestrator) selectCourse(ctx context.Context, courses []domain.Course) (domain.Course, error) {
	o.transition(StateAwaitingSelection)

	var idx int
	if o.cfg.Course > 0 {
		var err error
		idx, err = ParseSelection(strconv.Itoa(o.cfg.Course), len(courses))
		if err != nil {
			return domain.Course{}, err
		}
	} else {
		for {
			answer, err := o.deps.Prompter.Ask(ctx, selectionQuestion)
			if err != nil {
				return domain.Course{}, fmt.Errorf("failed to read course selection: %w", err)
			}
			idx, err = ParseSelection(answer, len(courses))
			if err == nil {
				break
			}
			logger.Warn("%v", err)
			o.printf("Invalid selection. Please try again.\n")
		}
	}

	course := courses[idx]
	o.printf("Selected: %s\n", course.Name)

	if err := o.deps.Prompter.Close(); err != nil {
		log.Printf("Session: Failed to close prompt: %v", err)
	}
	return course, nil
}

func (o *Orchestrator) enumerate(ctx context.Context, course domain.Course) ([]domain.Resource, string, error) {
	o.transition(StateEnumeratingActivities)

	courseURL := o.cfg.URL(o.cfg.Paths.Course) + "?id=" + url.QueryEscape(course.ID)
	if err := o.deps.Renderer.Navigate(ctx, courseURL); err != nil {
		return nil, "", fmt.Errorf("failed to open course page: %w", err)
	}

	activities, err := o.deps.Renderer.QueryAll(ctx, content.ActivitySelector)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query activities: %w", err)
	}
	o.printf("Found %d activity elements\n", len(activities))

	pageURL := o.location(ctx, courseURL)
	resources, err := content.ExtractResources(activities, pageURL)
	if err != nil {
		return nil, "", err
	}
	logger.Debug("%d of %d activities are downloadable", len(resources), len(activities))
	return resources, pageURL, nil
}

// shareCookies hands the renderer's session to the download client
func (o *Orchestrator) shareCookies(ctx context.Context, pageURL string) {
	if o.deps.Cookies == nil {
		return
	}
	cookies, err := o.deps.Renderer.Cookies(ctx, pageURL)
	if err != nil {
		log.Printf("Session: Failed to read session cookies: %v", err)
		return
	}
	if err := o.deps.Cookies.SetCookies(pageURL, cookies); err != nil {
		log.Printf("Session: Failed to share session cookies: %v", err)
	}
}

func (o *Orchestrator) downloadAll(ctx context.Context, course domain.Course, courseDir string, resources []domain.Resource, report *Report) error {
	o.transition(StateDownloadingLoop)
	folder := course.FolderName()

	for _, res := range resources {
		key := domain.LedgerKey(folder, res.FileName)
		if o.ledger.Contains(key) {
			o.printf("Skipping %s - already downloaded\n", res.FileName)
			report.Skipped++
			continue
		}

		o.printf("Downloading %s...\n", res.FileName)
		dest, err := destination(courseDir, res.FileName)
		if err == nil {
			var outcome domain.Outcome
			outcome, err = o.deps.Fetcher.Fetch(ctx, res.DownloadURL, dest)
			if err == nil {
				err = o.record(ctx, course, res, key, dest, outcome)
			}
		}
		if err != nil {
			o.printf("Failed to download %s: %v\n", res.FileName, err)
			report.Failed++
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}

		o.printf("Successfully downloaded %s\n", res.FileName)
		report.Downloaded++
	}
	return nil
}

// destination joins fileName onto courseDir. The result must name a file
// directly inside courseDir.
func destination(courseDir, fileName string) (string, error) {
	dest := filepath.Join(courseDir, fileName)
	rel, err := filepath.Rel(courseDir, dest)
	if err != nil || rel == "." || rel == ".." || filepath.Dir(rel) != "." {
		return "", fmt.Errorf("file name %q does not resolve to a file inside %s", fileName, courseDir)
	}
	return dest, nil
}

// record appends key to the ledger and then writes the optional catalog row
func (o *Orchestrator) record(ctx context.Context, course domain.Course, res domain.Resource, key, dest string, outcome domain.Outcome) error {
	if err := o.ledger.Record(key); err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}

	if o.deps.Catalog == nil {
		return nil
	}
	rec := &domain.DownloadRecord{
		RunID:        o.runID,
		CourseID:     course.ID,
		CourseName:   course.Name,
		Key:          key,
		FileName:     res.FileName,
		FileType:     res.Type,
		URL:          res.DownloadURL,
		Path:         dest,
		Bytes:        outcome.Bytes,
		Attempts:     outcome.Attempts,
		DownloadedAt: o.deps.Now(),
	}
	if err := o.deps.Catalog.SaveDownload(ctx, rec); err != nil {
		log.Printf("Session: Failed to save catalog record for %s: %v", key, err)
	}
	return nil
}

// location returns the renderer's current URL, or fallback when it cannot tell
func (o *Orchestrator) location(ctx context.Context, fallback string) string {
	loc, err := o.deps.Renderer.Location(ctx)
	if err != nil || loc == "" {
		return fallback
	}
	return loc
}

func (o *Orchestrator) transition(next State) {
	logger.Section(next.String())
	logger.Debug("session %s: %s -> %s", o.runID, o.state, next)
	o.state = next
}

func (o *Orchestrator) printf(format string, args ...any) {
	fmt.Fprintf(o.deps.Out, format, args...)
}
