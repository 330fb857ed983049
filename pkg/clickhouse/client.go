package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/ethpandaops/kpt/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	ErrDestMustBePointerToSlice = errors.New("dest must be a pointer to a slice")
	ErrDataMustBeSlice          = errors.New("data must be a slice")
	ErrClickHouseResponse       = errors.New("clickhouse error")
)

// Column describes a result column
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Result is a result set whose shape is only known at run time
type Result struct {
	Columns []Column
	Rows    []map[string]any
}

// response represents the JSON response from ClickHouse HTTP interface.
type response struct {
	Data     []json.RawMessage `json:"data"`
	Meta     []Column          `json:"meta"`
	Rows     int               `json:"rows"`
	RowsRead int               `json:"rows_read"` //nolint:tagliatelle // ClickHouse API uses snake_case
}

// ClientInterface defines the methods for interacting with ClickHouse
type ClientInterface interface {
	// QueryOne executes a query and decodes the first row
	QueryOne(ctx context.Context, query string, dest any) error
	// QueryMany executes a query and decodes every row into a slice
	QueryMany(ctx context.Context, query string, dest any) error
	// QueryRows executes a query with a dynamic column set
	QueryRows(ctx context.Context, query string) (*Result, error)
	// Execute runs a statement and returns the raw response body
	Execute(ctx context.Context, query string) ([]byte, error)
	// BulkInsert writes rows as JSONEachRow
	BulkInsert(ctx context.Context, table string, data any) error
	// Start checks connectivity
	Start() error
	// Stop releases idle connections
	Stop() error
}

type client struct {
	log           logrus.FieldLogger
	httpClient    *http.Client
	endpoint      string
	debug         bool
	queryTimeout  time.Duration
	insertTimeout time.Duration
}

// NewClient creates a new HTTP-based ClickHouse client
func NewClient(log logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     cfg.KeepAlive,
	}

	return &client{
		log:           log.WithField("component", "clickhouse-http"),
		httpClient:    &http.Client{Transport: transport},
		endpoint:      endpoint,
		debug:         cfg.Debug,
		queryTimeout:  cfg.QueryTimeout,
		insertTimeout: cfg.InsertTimeout,
	}, nil
}

func (c *client) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Execute(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	c.log.Info("Connected to ClickHouse HTTP interface")

	return nil
}

func (c *client) Stop() error {
	c.httpClient.CloseIdleConnections()
	c.log.Info("Closed ClickHouse HTTP client")

	return nil
}

func (c *client) QueryOne(ctx context.Context, query string, dest any) error {
	result, err := c.query(ctx, query)
	if err != nil {
		return err
	}

	if len(result.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(result.Data[0], dest); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return nil
}

func (c *client) QueryMany(ctx context.Context, query string, dest any) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.Elem().Kind() != reflect.Slice {
		return ErrDestMustBePointerToSlice
	}

	result, err := c.query(ctx, query)
	if err != nil {
		return err
	}

	sliceType := destValue.Elem().Type()
	elemType := sliceType.Elem()
	newSlice := reflect.MakeSlice(sliceType, len(result.Data), len(result.Data))

	for i, data := range result.Data {
		elem := reflect.New(elemType)
		if err := json.Unmarshal(data, elem.Interface()); err != nil {
			return fmt.Errorf("failed to unmarshal row %d: %w", i, err)
		}

		newSlice.Index(i).Set(elem.Elem())
	}

	destValue.Elem().Set(newSlice)

	return nil
}

func (c *client) QueryRows(ctx context.Context, query string) (*Result, error) {
	result, err := c.query(ctx, query)
	if err != nil {
		return nil, err
	}

	out := &Result{Columns: result.Meta, Rows: make([]map[string]any, 0, len(result.Data))}

	for i, data := range result.Data {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()

		row := make(map[string]any, len(result.Meta))
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal row %d: %w", i, err)
		}

		out.Rows = append(out.Rows, row)
	}

	return out, nil
}

func (c *client) Execute(ctx context.Context, query string) ([]byte, error) {
	body, err := c.do(ctx, "execute", query, c.timeout(ctx, c.queryTimeout))
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	return body, nil
}

func (c *client) BulkInsert(ctx context.Context, table string, data any) error {
	dataValue := reflect.ValueOf(data)
	if dataValue.Kind() != reflect.Slice {
		return ErrDataMustBeSlice
	}

	if dataValue.Len() == 0 {
		return nil
	}

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "INSERT INTO %s FORMAT JSONEachRow\n", table)

	for i := 0; i < dataValue.Len(); i++ {
		row, err := json.Marshal(dataValue.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("failed to marshal row %d: %w", i, err)
		}

		buf.Write(row)
		buf.WriteByte('\n')
	}

	if _, err := c.do(ctx, "insert", buf.String(), c.timeout(ctx, c.insertTimeout)); err != nil {
		return fmt.Errorf("bulk insert into %s failed: %w", table, err)
	}

	return nil
}

func (c *client) query(ctx context.Context, query string) (*response, error) {
	body, err := c.do(ctx, "select", query+" FORMAT JSON", c.timeout(ctx, c.queryTimeout))
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	var result response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &result, nil
}

func (c *client) do(ctx context.Context, queryType, query string, timeout time.Duration) ([]byte, error) {
	start := time.Now()

	body, err := c.post(ctx, query, timeout)

	status := "success"
	if err != nil {
		status = "error"
	}

	observability.RecordClickHouseQuery(queryType, status, time.Since(start).Seconds())

	return body, err
}

func (c *client) post(ctx context.Context, query string, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain")

	if c.debug {
		c.log.WithField("query", truncate(query, 1000)).Debug("Executing ClickHouse query")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Exception string `json:"exception"`
		}

		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Exception != "" {
			return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, errorResp.Exception)
		}

		return nil, fmt.Errorf("%w (status %d): %s", ErrClickHouseResponse, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if c.debug {
		c.log.WithField("response", truncate(string(body), 1000)).Debug("ClickHouse response")
	}

	return body, nil
}

// timeout prefers the deadline already carried by ctx
func (c *client) timeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "... (truncated)"
}

// withDatabase adds the database query parameter to a base URL
func withDatabase(base, database string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid clickhouse url: %w", err)
	}

	if database != "" {
		q := u.Query()
		q.Set("database", database)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
