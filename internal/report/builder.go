package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrReportIO reports a failure writing, reading or removing a report file.
	ErrReportIO = errors.New("report: file i/o failed")
	// ErrDelivery reports a failure handing the report to the caller.
	ErrDelivery = errors.New("report: delivery failed")
)

// ContentType is the media type of rendered reports.
const ContentType = "application/pdf"

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the time stamped into reports.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithCompression toggles PDF stream compression.
func WithCompression(enabled bool) Option {
	return func(b *Builder) { b.compress = enabled }
}

// Builder renders reports into a transient directory.
type Builder struct {
	dir      string
	logger   *zap.Logger
	now      func() time.Time
	compress bool
}

// NewBuilder creates dir if needed.
func NewBuilder(dir string, logger *zap.Logger, opts ...Option) (*Builder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: prepare report dir: %v", ErrReportIO, err)
	}
	b := &Builder{dir: dir, logger: logger.Named("report_builder"), now: time.Now, compress: true}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Render writes the report for in to a temp file. The caller owns the
// returned Artifact and must Close it to remove the file.
func (b *Builder) Render(in Input) (*Artifact, error) {
	if in.ReportID == "" {
		in.ReportID = uuid.NewString()
	}
	content, err := BuildContent(in)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(b.dir, "pulseai_report_"+in.ReportID+"_*.pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrReportIO, err)
	}
	artifact := &Artifact{
		ID:       in.ReportID,
		Filename: "pulseai_report_" + in.ReportID + ".pdf",
		path:     f.Name(),
		logger:   b.logger,
	}

	pdf := b.document(content)
	err = pdf.Output(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = artifact.Close()
		return nil, fmt.Errorf("%w: write: %v", ErrReportIO, err)
	}

	info, err := os.Stat(artifact.path)
	if err != nil {
		_ = artifact.Close()
		return nil, fmt.Errorf("%w: stat: %v", ErrReportIO, err)
	}
	artifact.Size = info.Size()

	b.logger.Debug("report rendered", zap.String("report_id", artifact.ID), zap.Int64("bytes", artifact.Size))
	return artifact, nil
}

func (b *Builder) document(c Content) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(b.compress)
	pdf.SetTitle(c.Title, true)
	pdf.SetCreator("PulseAI", true)
	pdf.SetCreationDate(b.now())
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Arial", "", 16)
	pdf.CellFormat(0, 10, tr(c.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	if c.Identifier != "" {
		pdf.CellFormat(0, 8, tr(c.Identifier), "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	for _, line := range c.Scores {
		pdf.CellFormat(0, 8, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 10, tr(c.TopLine), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 7, tr(c.Description), "", "L", false)
	pdf.Ln(3)
	pdf.MultiCell(0, 7, tr(c.Suggestion), "", "L", false)

	if len(c.Advisories) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(170, 30, 30)
		pdf.CellFormat(0, 8, "Advisory", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 12)
		for _, a := range c.Advisories {
			pdf.MultiCell(0, 7, tr(a), "", "L", false)
		}
		pdf.SetTextColor(0, 0, 0)
	}
	return pdf
}

// Artifact is a rendered report on disk.
type Artifact struct {
	ID       string
	Filename string
	Size     int64

	path     string
	logger   *zap.Logger
	once     sync.Once
	closeErr error
}

// ContentType returns the media type of the artifact.
func (a *Artifact) ContentType() string { return ContentType }

// Path returns the location of the transient file.
func (a *Artifact) Path() string { return a.path }

// Open returns a reader over the rendered file. Callers that announce the
// report before streaming it should Open first, so a missing file surfaces
// before anything is written.
func (a *Artifact) Open() (io.ReadCloser, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrReportIO, err)
	}
	return f, nil
}

// WriteTo streams the report to w.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	f, err := a.Open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return n, nil
}

// Close removes the transient file. It is safe to call more than once.
func (a *Artifact) Close() error {
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.closeErr = fmt.Errorf("%w: remove: %v", ErrReportIO, err)
			if a.logger != nil {
				a.logger.Error("failed to remove report file", zap.String("path", a.path), zap.Error(err))
			}
		}
	})
	return a.closeErr
}
