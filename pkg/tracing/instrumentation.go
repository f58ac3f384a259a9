package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Database span attributes
const (
	DBSystemKey    = attribute.Key("db.system")
	DBStatementKey = attribute.Key("db.statement")
	DBOperationKey = attribute.Key("db.operation")
	DBNameKey      = attribute.Key("db.name")
)

// Redis span attributes
const (
	RedisCommandKey = attribute.Key("redis.command")
	RedisKeyKey     = attribute.Key("redis.key")
)

// HTTP span attributes
const (
	HTTPMethodKey = attribute.Key("http.method")
	HTTPURLKey    = attribute.Key("http.url")
	HTTPStatusKey = attribute.Key("http.status_code")
)

// Matcher span attributes
const (
	UserIDKey            = attribute.Key("user.id")
	EntryIDKey           = attribute.Key("pool.entry_id")
	RouteCellsKey        = attribute.Key("route.cells")
	MatchKindKey         = attribute.Key("match.kind")
	SplitCellKey         = attribute.Key("match.split_cell")
	DetourMetersKey      = attribute.Key("match.detour_meters")
	TripIDKey            = attribute.Key("trip.id")
	FareKey              = attribute.Key("trip.fare")
	DistanceKey          = attribute.Key("distance.meters")
	LocationLatitudeKey  = attribute.Key("location.latitude")
	LocationLongitudeKey = attribute.Key("location.longitude")
)

// TraceDBQuery wraps a database query with tracing
func TraceDBQuery(ctx context.Context, tracerName, operation, query string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("db.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		DBSystemKey.String("postgresql"),
		DBOperationKey.String(operation),
		DBStatementKey.String(query),
	)

	err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceRedisCommand wraps a Redis command with tracing
func TraceRedisCommand(ctx context.Context, tracerName, command, key string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("redis.%s", command),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "redis"),
		RedisCommandKey.String(command),
		RedisKeyKey.String(key),
	)

	err := fn()
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceBusinessLogic wraps business logic with tracing
func TraceBusinessLogic(ctx context.Context, tracerName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// TraceExternalAPI wraps external API calls with tracing
func TraceExternalAPI(ctx context.Context, tracerName, serviceName, operation string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, fmt.Sprintf("%s.%s", serviceName, operation),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("external.service", serviceName),
		attribute.String("external.operation", operation),
	)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// MatchAttributes builds the span attributes for a match attempt.
func MatchAttributes(userID, entryID string, routeCells int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if userID != "" {
		attrs = append(attrs, UserIDKey.String(userID))
	}
	if entryID != "" {
		attrs = append(attrs, EntryIDKey.String(entryID))
	}
	if routeCells > 0 {
		attrs = append(attrs, RouteCellsKey.Int(routeCells))
	}
	return attrs
}

// TripAttributes builds the span attributes for a trip commit.
func TripAttributes(tripID string, fare int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if tripID != "" {
		attrs = append(attrs, TripIDKey.String(tripID))
	}
	if fare > 0 {
		attrs = append(attrs, FareKey.Int(fare))
	}
	return attrs
}

// LocationAttributes builds the span attributes for a coordinate pair.
func LocationAttributes(latitude, longitude float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		LocationLatitudeKey.Float64(latitude),
		LocationLongitudeKey.Float64(longitude),
	}
}
