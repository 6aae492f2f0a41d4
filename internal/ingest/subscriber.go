package ingest

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"tracker.onebusaway.org/internal/logging"
	"tracker.onebusaway.org/internal/metrics"
	"tracker.onebusaway.org/internal/realtime"
)

const metricsSource = "nats"

// RecordSink receives each accepted report as a batch of one.
type RecordSink interface {
	HandleVehicleLocationRecords(records []realtime.VehicleLocationRecord)
}

type Options struct {
	Sink  RecordSink
	Trips TripLookup
	// Location returns the agency time zone. It is called per message so a
	// static reload that changes it is picked up.
	Location func() *time.Location
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Subscriber consumes vehicle reports from one NATS subject.
type Subscriber struct {
	opts     Options
	logger   *slog.Logger
	nc       *nats.Conn
	sub      *nats.Subscription
	accepted atomic.Int64
	rejected atomic.Int64
	warn     rate.Sometimes
}

func NewSubscriber(opts Options) *Subscriber {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = func() *time.Location { return time.UTC }
	}
	return &Subscriber{
		opts:   opts,
		logger: logger.With(slog.String("component", "nats_ingest")),
		warn:   rate.Sometimes{First: 10, Interval: time.Minute},
	}
}

// Connect dials url and subscribes to subject.
func (s *Subscriber) Connect(url, subject string) error {
	nc, err := nats.Connect(url,
		nats.Name("onebusaway-tracker"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.LogError(s.logger, "NATS disconnected", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.LogOperation(s.logger, "nats_reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.LogOperation(s.logger, "nats_connection_closed")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	sub, err := nc.Subscribe(subject, s.handleMessage)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}

	s.nc, s.sub = nc, sub
	logging.LogOperation(s.logger, "nats_subscribed",
		slog.String("url", url),
		slog.String("subject", subject))
	return nil
}

func (s *Subscriber) handleMessage(msg *nats.Msg) {
	record, err := DecodeReport(msg.Data, s.opts.Trips, s.opts.Location())
	if err != nil {
		s.rejected.Add(1)
		s.opts.Metrics.ObserveRejected(metricsSource)
		s.warn.Do(func() {
			s.logger.Warn("rejected vehicle report",
				slog.String("subject", msg.Subject),
				slog.Int("bytes", len(msg.Data)),
				slog.String("error", err.Error()))
		})
		return
	}

	if s.opts.Sink != nil {
		s.opts.Sink.HandleVehicleLocationRecords([]realtime.VehicleLocationRecord{record})
	}
	s.accepted.Add(1)
	s.opts.Metrics.ObserveIngested(metricsSource, 1)
}

// Accepted is the number of reports handed to the sink.
func (s *Subscriber) Accepted() int64 {
	return s.accepted.Load()
}

// Rejected is the number of reports that failed to decode or resolve.
func (s *Subscriber) Rejected() int64 {
	return s.rejected.Load()
}

// Close drains the subscription and closes the connection.
func (s *Subscriber) Close() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		logging.LogError(s.logger, "Error draining NATS connection", err)
		s.nc.Close()
	}
}
