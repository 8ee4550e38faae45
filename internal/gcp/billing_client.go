package gcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/apd/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/billingops/gcp-billing-exporter/internal/config"
	"github.com/billingops/gcp-billing-exporter/internal/logger"
	"github.com/billingops/gcp-billing-exporter/internal/warehouse"
)

// BigQuery retry constants
const (
	// InitialRetryInterval is the initial backoff interval for retries
	InitialRetryInterval = 1 * time.Second

	// MaxRetryInterval is the maximum backoff interval between retries
	MaxRetryInterval = 30 * time.Second
)

// Billing export table naming. The standard export is preferred over the
// resource-level export, which shares the prefix but carries far more rows
// than the aggregation needs.
const (
	exportTablePrefix         = "gcp_billing_export_v1_"
	resourceExportTablePrefix = "gcp_billing_export_resource_v1_"
)

// Client queries the BigQuery billing export and implements
// warehouse.Source.
type Client struct {
	bq     *bigquery.Client
	cfg    *config.Config
	logger *logger.Logger

	mu        sync.Mutex
	tableName string // discovered once, then reused
}

// Verify that Client implements warehouse.Source
var _ warehouse.Source = (*Client)(nil)

// NewClient creates a BigQuery client for the configured project. When no
// credentials file is set, Application Default Credentials are used.
func NewClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	bq, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}

	return &Client{
		bq:     bq,
		cfg:    cfg,
		logger: log,
	}, nil
}

// Name returns the warehouse kind.
func (c *Client) Name() string {
	return "bigquery"
}

// Close releases the underlying BigQuery client.
func (c *Client) Close() error {
	return c.bq.Close()
}

// Fetch runs the aggregation query with exponential backoff. Permanent
// failures (bad credentials, missing table, invalid query) abort
// immediately; transient ones (throttling, 5xx, timeouts) are retried up to
// the configured attempt count.
func (c *Client) Fetch(ctx context.Context, period warehouse.Period) ([]warehouse.Row, error) {
	var result []warehouse.Row

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = InitialRetryInterval
	bo.MaxInterval = MaxRetryInterval

	operation := func() error {
		rows, err := c.fetchOnce(ctx, period)
		if err != nil {
			if warehouse.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("BigQuery query failed, will retry", "error", err)
			return err
		}
		result = rows
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var qe *warehouse.QueryError
		if errors.As(err, &qe) {
			return nil, qe
		}
		return nil, warehouse.NewTransientError(err)
	}

	return result, nil
}

// fetchOnce performs a single query attempt without retry logic.
func (c *Client) fetchOnce(ctx context.Context, period warehouse.Period) ([]warehouse.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.QueryTimeout)*time.Second)
	defer cancel()

	table, err := c.exportTable(ctx)
	if err != nil {
		return nil, err
	}

	q := c.bq.Query(costQuery(c.cfg.ProjectID, c.cfg.Dataset, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "tz", Value: period.Location.String()},
		{Name: "query_start", Value: period.QueryStart()},
		{Name: "query_end", Value: period.QueryEnd()},
	}

	c.logger.Debug("Querying billing export",
		"table", table,
		"query_start", period.QueryStart().Format(time.RFC3339),
		"query_end", period.QueryEnd().Format(time.RFC3339))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, classify(err)
	}

	var rows []warehouse.Row
	for {
		var rec billingRecord
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		row, err := rec.toRow()
		if err != nil {
			return nil, warehouse.NewPermanentError(err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// exportTable returns the billing export table name, discovering it on
// first use by listing the dataset. Discovery failures fall back to the
// standard export name derived from the billing account ID.
func (c *Client) exportTable(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tableName != "" {
		return c.tableName, nil
	}

	names, err := c.listTables(ctx)
	if err != nil {
		return "", err
	}

	table := pickExportTable(names, c.cfg.BillingAccountID)
	if table == "" {
		return "", warehouse.NewPermanentError(fmt.Errorf(
			"no billing export table found in dataset %s (looked for %s*)",
			c.cfg.Dataset, exportTablePrefix))
	}

	c.logger.Info("Discovered billing export table", "table", table)
	c.tableName = table
	return table, nil
}

func (c *Client) listTables(ctx context.Context) ([]string, error) {
	var names []string
	it := c.bq.Dataset(c.cfg.Dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		names = append(names, t.TableID)
	}
	return names, nil
}

// pickExportTable chooses the standard billing export table from a dataset
// listing, skipping the resource-level export. When nothing matches it
// derives the conventional name from the billing account ID.
func pickExportTable(names []string, billingAccountID string) string {
	var candidates []string
	for _, name := range names {
		if strings.HasPrefix(name, resourceExportTablePrefix) {
			continue
		}
		if strings.HasPrefix(name, exportTablePrefix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) > 0 {
		sort.Strings(candidates)
		return candidates[0]
	}
	if billingAccountID != "" {
		return exportTablePrefix + strings.ReplaceAll(billingAccountID, "-", "_")
	}
	return ""
}

// costQuery builds the grouped aggregation SQL. Table identifiers cannot be
// query parameters, so they are interpolated from validated config.
func costQuery(project, dataset, table string) string {
	return fmt.Sprintf(`
SELECT
  project.id AS project,
  service.description AS service,
  service.id AS service_id,
  currency,
  EXTRACT(DATE FROM usage_start_time AT TIME ZONE @tz) AS usage_date,
  SUM(cost) AS cost
FROM `+"`%s.%s.%s`"+`
WHERE usage_start_time >= @query_start
  AND usage_start_time < @query_end
GROUP BY project, service, service_id, currency, usage_date`,
		project, dataset, table)
}

// billingRecord maps one query result row.
type billingRecord struct {
	Project   bigquery.NullString `bigquery:"project"`
	Service   bigquery.NullString `bigquery:"service"`
	ServiceID bigquery.NullString `bigquery:"service_id"`
	Currency  string              `bigquery:"currency"`
	UsageDate civil.Date          `bigquery:"usage_date"`
	Cost      float64             `bigquery:"cost"`
}

func (r billingRecord) toRow() (warehouse.Row, error) {
	cost := new(apd.Decimal)
	if _, err := cost.SetFloat64(r.Cost); err != nil {
		return warehouse.Row{}, fmt.Errorf("invalid cost %v: %w", r.Cost, err)
	}
	return warehouse.Row{
		Project:   r.Project.StringVal,
		Service:   r.Service.StringVal,
		ServiceID: r.ServiceID.StringVal,
		Currency:  r.Currency,
		Date:      r.UsageDate,
		Cost:      cost,
	}, nil
}

// classify maps an upstream error to its retry class. Authorization and
// not-found failures cannot succeed on retry; throttling, server errors and
// timeouts can.
func classify(err error) *warehouse.QueryError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return warehouse.NewTransientError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 400, apiErr.Code == 401, apiErr.Code == 403, apiErr.Code == 404:
			return warehouse.NewPermanentError(err)
		case apiErr.Code == 429, apiErr.Code >= 500:
			return warehouse.NewTransientError(err)
		}
	}

	return warehouse.NewTransientError(err)
}
