package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmsfetch/pkg/config"
	"lmsfetch/pkg/domain"
	"lmsfetch/pkg/logger"
	"lmsfetch/pkg/transfer"
)

const baseURL = "https://lms.example.edu"

const loginHTML = `<html><body><form action="/portal/login/index.php" method="post">
<input id="username" name="username"><input id="password" name="password" type="password">
<button id="loginbtn">Log in</button></form></body></html>`

const profileHTML = `<html><body>
<div class="media-body"><h5>Algebra</h5><a href="/portal/course/view.php?id=101">Algebra</a></div>
<div class="media-body"><h5>Biology</h5><a href="/portal/course/view.php?id=202">Biology</a></div>
</body></html>`

func activityHTML(href, name, details string) string {
	return fmt.Sprintf(`<div class="activityinstance"><a class="aalink" href="%s"><span class="instancename">%s</span></a>`+
		`<span class="resourcelinkdetails">%s</span></div>`, href, name, details)
}

// fileServer serves /files/<name>; names starting with "broken" always fail
func fileServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/files/")
		if strings.HasPrefix(name, "broken") {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "contents of %s", name)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

type harness struct {
	cfg      config.Config
	renderer *fakeRenderer
	prompt   *scriptedPrompt
	catalog  *recordingCatalog
	out      *bytes.Buffer
	fetcher  *transfer.Fetcher
}

func newHarness(t *testing.T, activities string, answers ...string) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Username = "student"
	cfg.Password = "secret"
	cfg.DownloadDir = filepath.Join(dir, "Lectures")
	cfg.LedgerFile = filepath.Join(dir, "downloaded_files.txt")

	pages := map[string]string{
		cfg.URL(cfg.Paths.Login):               loginHTML,
		cfg.URL(cfg.Paths.Profile):             profileHTML,
		cfg.URL(cfg.Paths.Course) + "?id=101": "<html><body>" + activities + "</body></html>",
		cfg.URL(cfg.Paths.Course) + "?id=202": "<html><body></body></html>",
	}

	noSleep := func(ctx context.Context, d time.Duration) error { return nil }
	return &harness{
		cfg:      cfg,
		renderer: &fakeRenderer{pages: pages, password: "secret"},
		prompt:   &scriptedPrompt{answers: answers},
		catalog:  &recordingCatalog{},
		out:      &bytes.Buffer{},
		fetcher:  transfer.New(http.DefaultClient, transfer.DefaultConfig(), transfer.WithSleeper(noSleep)),
	}
}

func (h *harness) run(t *testing.T) (Report, error) {
	t.Helper()
	o := New(h.cfg, Deps{
		Renderer: h.renderer,
		Prompter: h.prompt,
		Fetcher:  h.fetcher,
		Catalog:  h.catalog,
		Out:      h.out,
	})
	return o.Run(context.Background())
}

func readLedger(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRun_EndToEnd(t *testing.T) {
	files, _ := fileServer(t)
	activities := activityHTML(files.URL+"/files/week1.pdf", "Week 1 Notes", "PDF document") +
		activityHTML(files.URL+"/files/quiz", "Quiz", "Interactive quiz")

	h := newHarness(t, activities, "1")
	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, domain.Course{Name: "Algebra", ID: "101"}, report.Course)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Downloaded)
	assert.Zero(t, report.Failed)

	data, err := os.ReadFile(filepath.Join(h.cfg.DownloadDir, "Algebra", "Week 1 Notes.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "contents of week1.pdf", string(data))

	assert.Equal(t, []string{"Algebra/Week 1 Notes.pdf"}, readLedger(t, h.cfg.LedgerFile))

	out := h.out.String()
	assert.Contains(t, out, "Found 2 courses\n1. Algebra\n2. Biology\n")
	assert.Contains(t, out, "Selected: Algebra\n")
	assert.Contains(t, out, "Found 2 activity elements\n")
	assert.Contains(t, out, "Downloading Week 1 Notes.pdf...\n")
	assert.Contains(t, out, "Successfully downloaded Week 1 Notes.pdf\n")
	assert.True(t, strings.HasSuffix(out, "Download process completed!\n"))

	require.Len(t, h.catalog.records, 1)
	rec := h.catalog.records[0]
	assert.Equal(t, "Algebra/Week 1 Notes.pdf", rec.Key)
	assert.Equal(t, "101", rec.CourseID)
	assert.Equal(t, domain.FileTypePDF, rec.FileType)
	assert.Equal(t, 1, rec.Attempts)
	assert.NotEmpty(t, rec.RunID)

	assert.True(t, h.prompt.closed)
	assert.Equal(t, 1, h.renderer.closed)
}

func TestRun_SecondRunDownloadsNothing(t *testing.T) {
	files, hits := fileServer(t)
	activities := activityHTML(files.URL+"/files/a.pdf", "Slides A", "PDF") +
		activityHTML(files.URL+"/files/b.docx", "Reading B", "Word document")

	first := newHarness(t, activities, "1")
	report, err := first.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Downloaded)
	assert.Equal(t, int32(2), hits.Load())

	second := newHarness(t, activities, "1")
	second.cfg.DownloadDir = first.cfg.DownloadDir
	second.cfg.LedgerFile = first.cfg.LedgerFile

	report, err = second.run(t)
	require.NoError(t, err)
	assert.Zero(t, report.Downloaded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, int32(2), hits.Load())

	out := second.out.String()
	assert.Contains(t, out, "Skipping Slides A.pdf - already downloaded\n")
	assert.Contains(t, out, "Skipping Reading B.docx - already downloaded\n")
	assert.Empty(t, second.catalog.records)
}

func TestRun_SelectionLoop(t *testing.T) {
	h := newHarness(t, "", "0", "abc", "99", "2")
	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, domain.Course{Name: "Biology", ID: "202"}, report.Course)
	assert.Equal(t, 4, h.prompt.asked)
	assert.Equal(t, 3, strings.Count(h.out.String(), "Invalid selection. Please try again.\n"))
	assert.Contains(t, h.out.String(), "Selected: Biology\n")

	info, err := os.Stat(filepath.Join(h.cfg.DownloadDir, "Biology"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRun_PreselectedCourse(t *testing.T) {
	h := newHarness(t, "")
	h.cfg.Course = 2

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "Biology", report.Course.Name)
	assert.Zero(t, h.prompt.asked)
}

func TestRun_PreselectedCourseOutOfRange(t *testing.T) {
	h := newHarness(t, "")
	h.cfg.Course = 5

	report, err := h.run(t)
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, StateAborted, report.State)
}

func TestRun_InputClosedAborts(t *testing.T) {
	h := newHarness(t, "", "nope")
	report, err := h.run(t)

	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateAborted, report.State)
	assert.Equal(t, 1, h.renderer.closed)
}

func TestRun_LoginRendererError(t *testing.T) {
	h := newHarness(t, "")
	h.renderer.loginErr = errors.New("navigation timeout")

	report, err := h.run(t)
	require.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, "login failed: navigation timeout", err.Error())
	assert.Equal(t, StateAborted, report.State)
}

func TestRun_WrongPassword(t *testing.T) {
	h := newHarness(t, "")
	h.cfg.Password = "wrong"

	_, err := h.run(t)
	require.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "still on the login page")
}

func TestRun_NoCourses(t *testing.T) {
	h := newHarness(t, "")
	h.renderer.pages[h.cfg.URL(h.cfg.Paths.Profile)] = `<html><body><div class="media-body"><h5>No link</h5></div></body></html>`

	report, err := h.run(t)
	require.ErrorIs(t, err, ErrNoCourses)
	assert.Equal(t, StateAborted, report.State)
	assert.Contains(t, h.out.String(), "Found 1 courses\n")
	assert.Zero(t, h.prompt.asked)
}

func TestRun_PerFileFailureContinues(t *testing.T) {
	files, _ := fileServer(t)
	activities := activityHTML(files.URL+"/files/broken.pdf", "Broken", "PDF") +
		activityHTML(files.URL+"/files/ok.xlsx", "Grades", "Excel spreadsheet")

	h := newHarness(t, activities, "1")
	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Downloaded)
	assert.Contains(t, h.out.String(), "Failed to download Broken.pdf: download failed after 3 attempt(s)")
	assert.Contains(t, h.out.String(), "Successfully downloaded Grades.xlsx\n")
	assert.Equal(t, []string{"Algebra/Grades.xlsx"}, readLedger(t, h.cfg.LedgerFile))
}

func TestRun_CatalogFailureIsNotFatal(t *testing.T) {
	files, _ := fileServer(t)
	h := newHarness(t, activityHTML(files.URL+"/files/a.pdf", "A", "pdf"), "1")
	h.catalog.err = errors.New("catalog offline")

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, []string{"Algebra/A.pdf"}, readLedger(t, h.cfg.LedgerFile))
}

func TestRun_LedgerWriteFailureIsPerFile(t *testing.T) {
	files, _ := fileServer(t)
	h := newHarness(t, activityHTML(files.URL+"/files/a.pdf", "A", "pdf"), "1")
	h.cfg.LedgerFile = filepath.Join(t.TempDir(), "missing-dir", "ledger.txt")

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, h.out.String(), "Failed to download A.pdf: failed to record download")
	assert.Empty(t, h.catalog.records)
}

func TestRun_SharesCookies(t *testing.T) {
	h := newHarness(t, "", "1")
	h.renderer.cookies = []*http.Cookie{{Name: "MoodleSession", Value: "abc"}}
	jar := &cookieJar{}

	// resources are needed for the download loop to start
	files, _ := fileServer(t)
	h.renderer.pages[h.cfg.URL(h.cfg.Paths.Course)+"?id=101"] = activityHTML(files.URL+"/files/a.pdf", "A", "pdf")

	o := New(h.cfg, Deps{Renderer: h.renderer, Prompter: h.prompt, Fetcher: h.fetcher, Cookies: jar, Out: h.out})
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, baseURL+"/portal/course/view.php?id=101", jar.url)
	require.Len(t, jar.cookies, 1)
	assert.Equal(t, "abc", jar.cookies[0].Value)
}

func TestRun_SanitizesCourseFolder(t *testing.T) {
	files, _ := fileServer(t)
	h := newHarness(t, "", "1")
	h.renderer.pages[h.cfg.URL(h.cfg.Paths.Profile)] =
		`<div class="media-body"><h5>Math: Part 1/2</h5><a href="/portal/course/view.php?id=101">x</a></div>`
	h.renderer.pages[h.cfg.URL(h.cfg.Paths.Course)+"?id=101"] = activityHTML(files.URL+"/files/a.pdf", "A", "pdf")

	_, err := h.run(t)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(h.cfg.DownloadDir, "Math_ Part 1_2", "A.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Math_ Part 1_2/A.pdf"}, readLedger(t, h.cfg.LedgerFile))
}

func TestRun_FileNamesStayInsideCourseFolder(t *testing.T) {
	files, hits := fileServer(t)
	activities := activityHTML(files.URL+"/files/lecture12.pdf", "Lecture 1/2", "PDF") +
		activityHTML(files.URL+"/files/escaped.pdf", "../../escaped", "PDF")

	h := newHarness(t, activities, "1")
	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Downloaded)
	assert.Zero(t, report.Failed)
	assert.EqualValues(t, 2, hits.Load())

	courseDir := filepath.Join(h.cfg.DownloadDir, "Algebra")
	data, err := os.ReadFile(filepath.Join(courseDir, "Lecture 1_2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "contents of lecture12.pdf", string(data))
	_, err = os.Stat(filepath.Join(courseDir, ".._.._escaped.pdf"))
	require.NoError(t, err)

	root := filepath.Dir(h.cfg.DownloadDir)
	for _, outside := range []string{
		filepath.Join(root, "escaped.pdf"),
		filepath.Join(h.cfg.DownloadDir, "escaped.pdf"),
		filepath.Join(filepath.Dir(root), "escaped.pdf"),
	} {
		_, err := os.Stat(outside)
		assert.True(t, os.IsNotExist(err), "unexpected file %s", outside)
	}

	assert.Equal(t, []string{"Algebra/Lecture 1_2.pdf", "Algebra/.._.._escaped.pdf"}, readLedger(t, h.cfg.LedgerFile))
}

func TestDestination(t *testing.T) {
	courseDir := filepath.Join(t.TempDir(), "Lectures", "Algebra")

	dest, err := destination(courseDir, "Week 1.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(courseDir, "Week 1.pdf"), dest)

	dest, err = destination(courseDir, "..pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(courseDir, "..pdf"), dest)

	for _, name := range []string{"", ".", "..", "../escaped.pdf", "../../escaped.pdf", "sub/x.pdf", "a/../../b.pdf"} {
		_, err := destination(courseDir, name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestRun_UnsafeResourceNameFailsThatFileOnly(t *testing.T) {
	files, hits := fileServer(t)
	h := newHarness(t, "", "1")
	o := New(h.cfg, Deps{Renderer: h.renderer, Prompter: h.prompt, Fetcher: h.fetcher, Out: h.out})
	require.NoError(t, o.init())

	courseDir := filepath.Join(h.cfg.DownloadDir, "Algebra")
	require.NoError(t, os.MkdirAll(courseDir, 0o755))

	report := Report{}
	resources := []domain.Resource{
		{DownloadURL: files.URL + "/files/x.pdf", FileName: "../../escaped.pdf", Type: domain.FileTypePDF},
		{DownloadURL: files.URL + "/files/a.pdf", FileName: "a.pdf", Type: domain.FileTypePDF},
	}
	require.NoError(t, o.downloadAll(context.Background(), domain.Course{Name: "Algebra", ID: "101"}, courseDir, resources, &report))

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.EqualValues(t, 1, hits.Load())
	assert.Contains(t, h.out.String(), "Failed to download ../../escaped.pdf: ")
	assert.Equal(t, []string{"Algebra/a.pdf"}, readLedger(t, h.cfg.LedgerFile))
}

func TestRun_SecondCallReturnsSessionFinished(t *testing.T) {
	h := newHarness(t, "", "1")
	o := New(h.cfg, Deps{Renderer: h.renderer, Prompter: h.prompt, Fetcher: h.fetcher, Out: h.out})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionFinished)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, 1, h.renderer.closed)
}

func TestRun_VerboseLogsStatesAndInvalidSelections(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetVerbose(true)
	t.Cleanup(func() {
		logger.SetVerbose(false)
		logger.SetOutput(os.Stderr)
	})

	h := newHarness(t, "", "7", "1")
	_, err := h.run(t)
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, "=== authenticating ===")
	assert.Contains(t, logs, "=== awaiting-selection ===")
	assert.Contains(t, logs, "=== done ===")
	assert.Contains(t, logs, "[WARN] ")
}

func TestParseSelection(t *testing.T) {
	idx, err := ParseSelection("2", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = ParseSelection(" 1 ", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	for _, input := range []string{"0", "4", "-1", "abc", "", "1.5"} {
		_, err := ParseSelection(input, 3)
		var selErr *SelectionError
		require.ErrorAs(t, err, &selErr, "input %q", input)
		assert.Equal(t, 3, selErr.Count)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateDownloadingLoop.Terminal())
}
