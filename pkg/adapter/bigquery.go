package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

// BigQuery exports recognition and greeting events to a table
type BigQuery interface {
	// EnsureEventTable creates the event table when it does not exist
	EnsureEventTable(ctx context.Context) error

	// InsertEvents streams events into the event table
	InsertEvents(ctx context.Context, events []*model.Event) error
}

type bigqueryClient struct {
	client    *bigquery.Client
	datasetID string
	tableID   string
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithEventTable overrides the default "events" table name
func WithEventTable(tableID string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.tableID = tableID
	}
}

// NewBigQuery creates a new BigQuery client writing to datasetID
func NewBigQuery(ctx context.Context, projectID, datasetID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client:    client,
		datasetID: datasetID,
		tableID:   "events",
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

type eventRow struct {
	Kind              string    `bigquery:"kind"`
	IdentityID        string    `bigquery:"identity_id"`
	Name              string    `bigquery:"name"`
	Distance          float64   `bigquery:"distance"`
	ConfidencePercent int64     `bigquery:"confidence_percent"`
	Message           string    `bigquery:"message"`
	At                time.Time `bigquery:"at"`
}

func (bq *bigqueryClient) table() *bigquery.Table {
	return bq.client.Dataset(bq.datasetID).Table(bq.tableID)
}

func (bq *bigqueryClient) EnsureEventTable(ctx context.Context) error {
	tbl := bq.table()

	_, err := tbl.Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", bq.datasetID),
			goerr.V("table", bq.tableID))
	}

	schema, err := bigquery.InferSchema(eventRow{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer event schema")
	}

	if err := tbl.Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "at",
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to create event table",
			goerr.V("dataset", bq.datasetID),
			goerr.V("table", bq.tableID))
	}

	return nil
}

func (bq *bigqueryClient) InsertEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]*eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, &eventRow{
			Kind:              string(ev.Kind),
			IdentityID:        string(ev.IdentityID),
			Name:              ev.Name,
			Distance:          ev.Distance,
			ConfidencePercent: int64(ev.ConfidencePercent),
			Message:           ev.Message,
			At:                ev.At,
		})
	}

	if err := bq.table().Inserter().Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert events",
			goerr.V("dataset", bq.datasetID),
			goerr.V("table", bq.tableID),
			goerr.V("count", len(rows)))
	}
	return nil
}
