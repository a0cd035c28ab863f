package logging

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/kcz17/benchram/reporting"
)

// plotLogger collects interval percentiles and renders them as a line plot
// once the session closes.
type plotLogger struct {
	path      string
	session   *reporting.Session
	intervals []*reporting.IntervalReport
}

func NewPlotLogger(path string) *plotLogger {
	return &plotLogger{path: path}
}

func (l *plotLogger) Open(session *reporting.Session) error {
	l.session = session
	l.intervals = nil
	return nil
}

func (l *plotLogger) Interval(r *reporting.IntervalReport) error {
	l.intervals = append(l.intervals, r)
	return nil
}

func (*plotLogger) Terminal(*reporting.TerminalReport) error {
	return nil
}

func (l *plotLogger) Close() error {
	if len(l.intervals) == 0 {
		return nil
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "could not create plot")
	}
	p.Title.Text = "Latency percentiles"
	if l.session != nil {
		p.Title.Text += " (" + l.session.ID + ")"
	}
	p.X.Label.Text = "Seconds"
	p.Y.Label.Text = "Latency (ms)"

	if err := plotutil.AddLinePoints(p, l.lines()...); err != nil {
		return errors.Wrap(err, "could not add percentile lines")
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, l.path); err != nil {
		return errors.Wrapf(err, "could not save plot to %s", l.path)
	}
	return nil
}

// lines returns alternating name and plotter.XYs arguments for
// plotutil.AddLinePoints, one line per percentile.
func (l *plotLogger) lines() []interface{} {
	first := l.intervals[0]
	start := first.IntervalStart

	var lines []interface{}
	for i, fraction := range first.Percentiles {
		points := make(plotter.XYs, len(l.intervals))
		for j, r := range l.intervals {
			points[j].X = r.IntervalEnd.Sub(start).Seconds()
			if i < len(r.PercentileValues) {
				points[j].Y = float64(r.PercentileValues[i])
			}
		}
		lines = append(lines, reporting.PercentileName(fraction), points)
	}
	return lines
}
