// Package engine wraps the external Athena query engine behind the
// domain.EngineClient port and drives the submit/poll/fetch state machine.
package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// Compile-time check.
var _ domain.EngineClient = (*AthenaClient)(nil)

// AthenaAPI is the subset of the Athena SDK the client uses.
// Satisfied by *athena.Client.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// AthenaClient is a thin protocol wrapper around Athena's
// submit/status/fetch/cancel operations. No caching or policy logic lives here.
type AthenaClient struct {
	api            AthenaAPI
	workGroup      string
	database       string
	outputLocation string
	fetchPageSize  int32
}

// AthenaConfig holds the engine-side settings for an AthenaClient.
type AthenaConfig struct {
	WorkGroup      string
	Database       string
	OutputLocation string
	FetchPageSize  int // rows per GetQueryResults call (Athena max 1000)
}

// NewAthenaClient creates an AthenaClient over the given SDK client.
func NewAthenaClient(api AthenaAPI, cfg AthenaConfig) *AthenaClient {
	pageSize := int32(cfg.FetchPageSize)
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &AthenaClient{
		api:            api,
		workGroup:      cfg.WorkGroup,
		database:       cfg.Database,
		outputLocation: cfg.OutputLocation,
		fetchPageSize:  pageSize,
	}
}

// Submit generates SQL for the canonical query and starts an Athena execution.
func (c *AthenaClient) Submit(ctx context.Context, q domain.CanonicalQuery) (string, error) {
	sqlText, err := BuildSQL(q)
	if err != nil {
		return "", err
	}

	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sqlText),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(c.database),
		},
	}
	if c.workGroup != "" {
		input.WorkGroup = aws.String(c.workGroup)
	}
	if c.outputLocation != "" {
		input.ResultConfiguration = &types.ResultConfiguration{
			OutputLocation: aws.String(c.outputLocation),
		}
	}

	out, err := c.api.StartQueryExecution(ctx, input)
	if err != nil {
		return "", mapAthenaError("submit", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// Status reads the remote execution state.
func (c *AthenaClient) Status(ctx context.Context, executionID string) (domain.ExecutionStatus, error) {
	out, err := c.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return domain.ExecutionStatus{}, mapAthenaError("status", err)
	}

	st := out.QueryExecution.Status
	status := domain.ExecutionStatus{State: mapAthenaState(st.State)}
	if status.State == domain.ExecutionStateFailed {
		status.Reason = aws.ToString(st.StateChangeReason)
		if status.Reason == "" && st.AthenaError != nil {
			status.Reason = aws.ToString(st.AthenaError.ErrorMessage)
		}
	}
	return status, nil
}

// FetchPage reads one page of results. Athena repeats the column headers as
// the first data row of the first page; that row is skipped here.
func (c *AthenaClient) FetchPage(ctx context.Context, executionID, pageToken string) (*domain.ResultPage, error) {
	input := &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(executionID),
		MaxResults:       aws.Int32(c.fetchPageSize),
	}
	firstPage := pageToken == ""
	if !firstPage {
		input.NextToken = aws.String(pageToken)
	}

	out, err := c.api.GetQueryResults(ctx, input)
	if err != nil {
		return nil, mapAthenaError("fetch", err)
	}

	page := &domain.ResultPage{NextToken: aws.ToString(out.NextToken)}
	meta := out.ResultSet.ResultSetMetadata
	for _, ci := range meta.ColumnInfo {
		page.Columns = append(page.Columns, domain.Column{
			Name: aws.ToString(ci.Name),
			Type: aws.ToString(ci.Type),
		})
	}

	rows := out.ResultSet.Rows
	if firstPage && len(rows) > 0 {
		rows = rows[1:] // header row
	}
	for _, row := range rows {
		cells := make([]interface{}, len(row.Data))
		for i, datum := range row.Data {
			var colType string
			if i < len(page.Columns) {
				colType = page.Columns[i].Type
			}
			cells[i] = convertCell(datum.VarCharValue, colType)
		}
		page.Rows = append(page.Rows, cells)
	}
	return page, nil
}

// Cancel stops the execution. Best-effort; callers treat failure as non-fatal.
func (c *AthenaClient) Cancel(ctx context.Context, executionID string) error {
	_, err := c.api.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return mapAthenaError("cancel", err)
	}
	return nil
}

func mapAthenaState(s types.QueryExecutionState) domain.ExecutionState {
	switch s {
	case types.QueryExecutionStateQueued:
		return domain.ExecutionStateQueued
	case types.QueryExecutionStateRunning:
		return domain.ExecutionStateRunning
	case types.QueryExecutionStateSucceeded:
		return domain.ExecutionStateSucceeded
	case types.QueryExecutionStateFailed:
		return domain.ExecutionStateFailed
	case types.QueryExecutionStateCancelled:
		return domain.ExecutionStateCancelled
	default:
		return domain.ExecutionStateSubmitted
	}
}

// mapAthenaError converts SDK errors into domain error kinds. Throttling and
// engine-internal errors are transient; invalid requests are terminal.
func mapAthenaError(op string, err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return domain.ErrEngineUnavailable("%s: engine throttled: %v", op, err)
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return domain.ErrEngineUnavailable("%s: engine internal error: %v", op, err)
	}
	var invalid *types.InvalidRequestException
	if errors.As(err, &invalid) {
		return domain.ErrEngineRejected("%s: engine rejected request: %v", op, err)
	}
	if isNetworkError(err) {
		return domain.ErrEngineUnavailable("%s: %v", op, err)
	}
	return domain.ErrEngineRejected("%s: %v", op, err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	hints := []string{"timeout", "temporarily", "temporary", "connection reset", "connection refused", "eof", "broken pipe", "no such host"}
	for _, hint := range hints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
