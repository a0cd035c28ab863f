package main

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kcz17/benchram/config"
	"github.com/kcz17/benchram/logging"
	"github.com/kcz17/benchram/reporting"
)

func configureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// newSink builds the report sink selected by the reporting configuration.
func newSink(conf *config.Reporting) (reporting.Sink, error) {
	var sinks []reporting.Sink

	switch conf.Driver {
	case "noop":
		sinks = append(sinks, logging.NewNoopLogger())
	case "stdout":
		sinks = append(sinks, logging.NewStdoutLogger(log.StandardLogger()))
	case "influxdb":
		if conf.InfluxDB == nil {
			return nil, errors.New("reporting.influxdb must be set for the influxdb driver")
		}
		sinks = append(sinks, logging.NewInfluxDBLogger(
			*conf.InfluxDB.Host,
			*conf.InfluxDB.Token,
			*conf.InfluxDB.Org,
			*conf.InfluxDB.Bucket,
		))
	default:
		return nil, errors.Errorf("expected reporting.driver one of {noop|stdout|influxdb}; got %s", conf.Driver)
	}

	if conf.PlotFile != "" {
		sinks = append(sinks, logging.NewPlotLogger(conf.PlotFile))
	}
	return logging.NewMultiLogger(sinks...), nil
}
