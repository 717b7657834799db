package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/missionflow/pkg/models"
)

// ErrorKindKey labels spans of runs that failed with a models.RunError.
const ErrorKindKey = "missionflow.error.kind"

func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	var runErr *models.RunError
	if errors.As(err, &runErr) {
		attrs = append(attrs, attribute.String(ErrorKindKey, string(runErr.Kind)))

		if runErr.ActionID != "" {
			attrs = append(attrs, attribute.String(ActionIDKey, runErr.ActionID))
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
}
