package critforce

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/protobuf/ptypes/empty"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BTBurke/critforce/pkg/analysis"
	"github.com/BTBurke/critforce/pkg/tracing"
)

// createMethod is the collector RPC that stores a finished test
const createMethod = "/critforce.v1.Reports/Create"

// DefaultSendTimeout bounds the retries of one report upload
const DefaultSendTimeout = 5 * time.Minute

// Run describes the test a report came from
type Run struct {
	ID       string
	Label    string
	Device   string
	Firmware string
	Mode     string
	Finished time.Time
}

// NewRunID returns a sortable unique test identifier
func NewRunID() string {
	return ulid.Make().String()
}

// ReportSender uploads finished reports
type ReportSender interface {
	Send(ctx context.Context, run Run, report *analysis.Report) error
}

// Reporter is a wrapper for sending a report via GRPC
type Reporter struct {
	sender  sender
	errors  ErrorReporter
	timeout time.Duration
}

// sender transmits a prepared report
type sender interface {
	send(ctx context.Context, payload *structpb.Struct) error
}

// senderService sends reports to the collector using GRPC
type senderService struct {
	host string
	opts []grpc.DialOption
}

// NewReporter returns a reporter sending to host, using TLS unless useTLS is false
func NewReporter(host string, useTLS bool, errors ErrorReporter) *Reporter {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return &Reporter{
		sender: &senderService{
			host: host,
			opts: []grpc.DialOption{grpc.WithTransportCredentials(creds)},
		},
		errors:  errors,
		timeout: DefaultSendTimeout,
	}
}

// Send uploads the report.  Failed attempts are retried with exponential backoff until the send timeout.
// The final error is returned and also passed to the error reporter.
func (r *Reporter) Send(ctx context.Context, run Run, report *analysis.Report) (err error) {
	ctx, span := tracing.StartSpan(ctx, "report.Send")
	defer func() { tracing.End(span, err) }()

	if report == nil {
		return fmt.Errorf("no report created")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sender.send(ctx, reportPayload(run, report)); err != nil {
		err = fmt.Errorf("send report %s: %w", run.ID, err)
		if r.errors != nil {
			r.errors.ReportError(err)
		}
		return err
	}
	return nil
}

func (s *senderService) send(ctx context.Context, payload *structpb.Struct) error {
	conn, err := grpc.NewClient(s.host, s.opts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	send := func() error {
		return conn.Invoke(ctx, createMethod, payload, &empty.Empty{})
	}
	return backoff.Retry(send, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

// reportPayload flattens the report into a protobuf struct.  Non-finite numbers become null.
func reportPayload(run Run, report *analysis.Report) *structpb.Struct {
	md := map[string]string{"run": run.ID}
	if run.Device != "" {
		md["device"] = run.Device
	}
	metrics := make(map[string]*structpb.Value)
	for name, v := range report.Metrics(md) {
		metrics[name] = number(v)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":          str(run.ID),
		"label":           str(run.Label),
		"device":          str(run.Device),
		"firmware":        str(run.Firmware),
		"mode":            str(run.Mode),
		"finished_at":     str(run.Finished.UTC().Format(time.RFC3339)),
		"model":           str(report.Model.String()),
		"partial":         {Kind: &structpb.Value_BoolValue{BoolValue: report.Partial}},
		"work_seconds":    number(report.WorkSeconds),
		"rest_seconds":    number(report.RestSeconds),
		"metrics":         {Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{Fields: metrics}}},
		"mid_times":       list(report.MidTimes),
		"loads":           list(report.Loads),
		"remaining":       list(report.Remaining),
		"predicted_force": list(report.PredictedForce),
	}}
}

func str(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

func number(v float64) *structpb.Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &structpb.Value{Kind: &structpb.Value_NullValue{}}
	}
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func list(values []float64) *structpb.Value {
	out := make([]*structpb.Value, len(values))
	for i, v := range values {
		out[i] = number(v)
	}
	return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: out}}}
}
