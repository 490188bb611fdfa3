package report

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/pulseai/internal/emotion"
)

func fearInput(t *testing.T, reportID string) Input {
	t.Helper()
	insight, err := emotion.LookupInsight(emotion.Fear)
	require.NoError(t, err)
	rule, err := emotion.NewAlertRule(emotion.DefaultNegativeLabels, emotion.DefaultAlertThreshold)
	require.NoError(t, err)
	p := emotion.Prediction{0.1, 0.65, 0.2, 0.05}
	alerts, err := rule.Evaluate(p)
	require.NoError(t, err)
	return Input{ReportID: reportID, Prediction: p, TopLabel: emotion.Fear, Insight: insight, Alerts: alerts}
}

func newTestBuilder(t *testing.T, opts ...Option) (*Builder, string) {
	t.Helper()
	dir := t.TempDir()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	b, err := NewBuilder(dir, zap.NewNop(), opts...)
	require.NoError(t, err)
	return b, dir
}

func TestBuildContentOrder(t *testing.T) {
	c, err := BuildContent(fearInput(t, "r-1"))
	require.NoError(t, err)

	lines := c.Lines()
	require.Equal(t, Title, lines[0])
	require.Equal(t, "Report ID: r-1", lines[1])
	require.Equal(t, []string{"Angry: 10.00%", "Fear: 65.00%", "Happy: 20.00%", "Sad: 5.00%"}, lines[2:6])
	require.Equal(t, "Predicted Emotion: Fear", lines[6])
	require.Equal(t, c.Description, lines[7])
	require.Equal(t, c.Suggestion, lines[8])
	require.Len(t, c.Advisories, 1)
	require.True(t, strings.HasPrefix(c.Advisories[0], "Fear"))
}

func TestBuildContentWithoutIdentifier(t *testing.T) {
	in := fearInput(t, "")
	c, err := BuildContent(in)
	require.NoError(t, err)
	require.Empty(t, c.Identifier)
	require.Equal(t, "Angry: 10.00%", c.Lines()[1])
}

func TestBuildContentRejectsWrongTopLabel(t *testing.T) {
	in := fearInput(t, "r-1")
	in.TopLabel = emotion.Happy
	_, err := BuildContent(in)
	require.ErrorIs(t, err, emotion.ErrInvalidPrediction)
}

func TestRenderWritesPDF(t *testing.T) {
	b, _ := newTestBuilder(t, WithCompression(false))

	a, err := b.Render(fearInput(t, "abc"))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, "pulseai_report_abc.pdf", a.Filename)
	require.Equal(t, "application/pdf", a.ContentType())

	var buf bytes.Buffer
	n, err := a.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, a.Size, n)
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	require.Contains(t, buf.String(), "Predicted Emotion: Fear")
	require.Contains(t, buf.String(), "Report ID: abc")
}

func TestRenderAssignsFreshIDs(t *testing.T) {
	b, _ := newTestBuilder(t)

	first, err := b.Render(fearInput(t, ""))
	require.NoError(t, err)
	defer first.Close()
	second, err := b.Render(fearInput(t, ""))
	require.NoError(t, err)
	defer second.Close()

	require.NotEmpty(t, first.ID)
	require.NotEqual(t, first.ID, second.ID)
	require.NotEqual(t, first.Path(), second.Path())
}

func TestRenderTwiceDistinctBytesSameContent(t *testing.T) {
	b, _ := newTestBuilder(t)

	inA, inB := fearInput(t, "report-a"), fearInput(t, "report-b")
	a, err := b.Render(inA)
	require.NoError(t, err)
	defer a.Close()
	bArt, err := b.Render(inB)
	require.NoError(t, err)
	defer bArt.Close()

	var bufA, bufB bytes.Buffer
	_, err = a.WriteTo(&bufA)
	require.NoError(t, err)
	_, err = bArt.WriteTo(&bufB)
	require.NoError(t, err)
	require.NotEqual(t, bufA.Bytes(), bufB.Bytes())

	contentA, err := BuildContent(inA)
	require.NoError(t, err)
	contentB, err := BuildContent(inB)
	require.NoError(t, err)
	require.NotEqual(t, contentA.Identifier, contentB.Identifier)
	contentA.Identifier, contentB.Identifier = "", ""
	require.Equal(t, contentA, contentB)
}

func TestRenderWrapsLongSuggestion(t *testing.T) {
	b, _ := newTestBuilder(t)
	in := fearInput(t, "long")
	in.Insight.Suggestion = strings.Repeat("Talk with the child about the drawing. ", 400)

	a, err := b.Render(in)
	require.NoError(t, err)
	defer a.Close()
	require.Greater(t, a.Size, int64(0))
}

type failingWriter struct{ written int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written > 0 {
		return 0, errors.New("client went away")
	}
	w.written += len(p) / 2
	return len(p) / 2, errors.New("client went away")
}

func TestCloseRemovesFileAfterFailedDelivery(t *testing.T) {
	b, dir := newTestBuilder(t)

	a, err := b.Render(fearInput(t, "gone"))
	require.NoError(t, err)
	_, err = os.Stat(a.Path())
	require.NoError(t, err)

	_, err = a.WriteTo(&failingWriter{})
	require.ErrorIs(t, err, ErrDelivery)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = os.Stat(a.Path())
	require.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpenAfterCloseFailsWithIOError(t *testing.T) {
	b, _ := newTestBuilder(t)

	a, err := b.Render(fearInput(t, "closed"))
	require.NoError(t, err)

	src, err := a.Open()
	require.NoError(t, err)
	head := make([]byte, 4)
	_, err = src.Read(head)
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(head))
	require.NoError(t, src.Close())

	require.NoError(t, a.Close())
	_, err = a.Open()
	require.ErrorIs(t, err, ErrReportIO)
	_, err = a.WriteTo(&bytes.Buffer{})
	require.ErrorIs(t, err, ErrReportIO)
}

func TestRenderRejectsInvalidPrediction(t *testing.T) {
	b, dir := newTestBuilder(t)
	in := fearInput(t, "bad")
	in.Prediction = emotion.Prediction{0.5, 0.5}

	_, err := b.Render(in)
	require.ErrorIs(t, err, emotion.ErrInvalidPrediction)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
