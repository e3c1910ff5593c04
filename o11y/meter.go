package o11y

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meter holds the package-level OTel meter used by metric recording functions.
var meter metric.Meter

// Pre-registered instruments for the relay's hot-path metrics.
var (
	bytesReceivedCounter metric.Int64Counter
	bytesSentCounter     metric.Int64Counter
	turnDurationHist     metric.Float64Histogram
	errorCounter         metric.Float64Counter

	meterOnce sync.Once
	meterErr  error
)

func init() {
	meter = otel.Meter("github.com/corallang/voicerelay/o11y")
}

// initInstruments lazily creates the pre-defined metric instruments. This is
// deferred so callers can configure the meter provider before first use.
func initInstruments() error {
	meterOnce.Do(func() {
		var err error

		bytesReceivedCounter, err = meter.Int64Counter(
			"voicerelay.audio.bytes",
			metric.WithDescription("Audio bytes relayed, by direction"),
			metric.WithUnit("By"),
		)
		if err != nil {
			meterErr = err
			return
		}

		bytesSentCounter, err = meter.Int64Counter(
			"voicerelay.audio.bytes.sent",
			metric.WithDescription("Audio bytes forwarded to the learner"),
			metric.WithUnit("By"),
		)
		if err != nil {
			meterErr = err
			return
		}

		turnDurationHist, err = meter.Float64Histogram(
			"voicerelay.turn.duration",
			metric.WithDescription("Duration of a completed turn"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			meterErr = err
			return
		}

		errorCounter, err = meter.Float64Counter(
			"voicerelay.session.errors",
			metric.WithDescription("Session-level errors recorded"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			meterErr = err
			return
		}
	})
	return meterErr
}

// InitMeter configures the package-level meter with the given service name.
// This should be called after setting up the OTel meter provider. If not called,
// the default global meter provider is used.
func InitMeter(serviceName string) error {
	meter = otel.Meter(
		"github.com/corallang/voicerelay/o11y",
		metric.WithInstrumentationAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	// Reset so instruments are re-created with the new meter.
	meterOnce = sync.Once{}
	meterErr = nil
	return initInstruments()
}

// AudioBytes records bytes received from the learner and bytes sent to the
// learner for one relay event.
func AudioBytes(ctx context.Context, received, sent int) {
	if err := initInstruments(); err != nil {
		return
	}
	bytesReceivedCounter.Add(ctx, int64(received),
		metric.WithAttributes(attribute.String("voicerelay.direction", "received")),
	)
	bytesSentCounter.Add(ctx, int64(sent),
		metric.WithAttributes(attribute.String("voicerelay.direction", "sent")),
	)
}

// TurnDuration records the wall-clock duration of a completed turn in
// milliseconds.
func TurnDuration(ctx context.Context, durationMs float64) {
	if err := initInstruments(); err != nil {
		return
	}
	turnDurationHist.Record(ctx, durationMs)
}

// ErrorCount records the occurrence of a session-level error.
func ErrorCount(ctx context.Context, count float64) {
	if err := initInstruments(); err != nil {
		return
	}
	errorCounter.Add(ctx, count)
}

// Counter records an increment to a named counter metric.
func Counter(ctx context.Context, name string, value int64) {
	c, err := meter.Int64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value)
}

// Histogram records a value to a named histogram metric.
func Histogram(ctx context.Context, name string, value float64) {
	h, err := meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value)
}
