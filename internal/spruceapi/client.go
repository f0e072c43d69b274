// Package spruceapi is the HTTP client for the Spruce coordination service.
// It owns run records, notification recipients, and the secret vault; the
// agent only ever reads and patches through this client.
package spruceapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/wphospital/sprucepy/internal/core"
)

const (
	runEndpoint          = "runs"
	recipientEndpoint    = "recipients"
	secretEndpoint       = "secrets"
	taskSecretEndpoint   = "task_secrets"
	notificationEndpoint = "notifications"
	executeEndpoint      = "tasks/execute"

	// TokenEnvVar supplies the bearer token for the secret vault when no
	// explicit token is configured.
	TokenEnvVar = "SPRUCE_API_TOKEN"

	defaultTimeout = 10 * time.Second
)

var (
	// ErrSecretNotFound is returned on a 404 from the secret vault.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrSecretPermission is returned on a 401 from the secret vault.
	ErrSecretPermission = errors.New("secret access denied")
)

// Options configures a Client. Token falls back to the SPRUCE_API_TOKEN
// environment variable; Timeout falls back to a short default, since every
// call here sits on the supervised run's critical path.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a thin JSON/form client over the coordination API.
type Client struct {
	http  *resty.Client
	token string
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	token := opts.Token
	if token == "" {
		token = os.Getenv(TokenEnvVar)
	}

	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout)
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})

	return &Client{http: rc, token: token}
}

type createRunResponse struct {
	ID int64 `json:"id"`
}

// CreateRun registers a new run with status "in progress" and returns the
// identifier the service assigned.
func (c *Client) CreateRun(ctx context.Context, taskID, createdBy string, start time.Time) (string, error) {
	var out createRunResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"task":       taskID,
			"start_time": start.UTC().Format(time.RFC3339),
			"created_by": createdBy,
			"status":     string(core.RunStatusInProgress),
		}).
		SetResult(&out).
		Post(runEndpoint)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if resp.IsError() {
		return "", apiError("create run", resp)
	}
	return strconv.FormatInt(out.ID, 10), nil
}

// PatchHeartbeat records a liveness timestamp on a running run.
func (c *Client) PatchHeartbeat(ctx context.Context, runID string, at time.Time) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"heartbeat": at.UTC().Format(time.RFC3339),
		}).
		Patch(runEndpoint + "/" + runID)
	if err != nil {
		return fmt.Errorf("patch heartbeat: %w", err)
	}
	if resp.IsError() {
		return apiError("patch heartbeat", resp)
	}
	return nil
}

// PatchPID records the supervised child's process id on the run.
func (c *Client) PatchPID(ctx context.Context, runID string, pid int) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"pid": strconv.Itoa(pid)}).
		Patch(runEndpoint + "/" + runID)
	if err != nil {
		return fmt.Errorf("patch pid: %w", err)
	}
	if resp.IsError() {
		return apiError("patch pid", resp)
	}
	return nil
}

// Finalization carries the single terminal transition of a run.
type Finalization struct {
	EndTime    time.Time
	Status     core.RunStatus
	ReturnCode *int
	Output     string
	Error      string
}

// FinalizeRun issues the terminal PATCH for a run. Callers are responsible
// for issuing it exactly once per run.
func (c *Client) FinalizeRun(ctx context.Context, runID string, fin Finalization) error {
	form := map[string]string{
		"end_time":    fin.EndTime.UTC().Format(time.RFC3339),
		"status":      string(fin.Status),
		"error_text":  fin.Error,
		"output_text": fin.Output,
	}
	if fin.ReturnCode != nil {
		form["return_code"] = strconv.Itoa(*fin.ReturnCode)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Patch(runEndpoint + "/" + runID)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if resp.IsError() {
		return apiError("finalize run", resp)
	}
	return nil
}

// Recipients fetches the notification list for a task and category.
func (c *Client) Recipients(ctx context.Context, taskID, category string) ([]core.Recipient, error) {
	var out []core.Recipient
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"task_id":  taskID,
			"category": category,
		}).
		SetResult(&out).
		Get(recipientEndpoint)
	if err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("get recipients", resp)
	}
	return out, nil
}

// TaskSecrets fetches the task's environment-variable-to-secret mapping.
func (c *Client) TaskSecrets(ctx context.Context, taskID string) ([]core.TaskSecret, error) {
	var out []core.TaskSecret
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(taskSecretEndpoint + "/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("get task secrets: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("get task secrets", resp)
	}
	return out, nil
}

type secretResponse struct {
	Value string `json:"value"`
}

// SecretByKey retrieves one secret value from the vault. A missing key and a
// rejected token surface as distinct conditions, since either is fatal to
// launching a task that depends on the secret.
func (c *Client) SecretByKey(ctx context.Context, key string) (string, error) {
	var out secretResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetResult(&out).
		Get(secretEndpoint + "/" + key)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", key, err)
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	case http.StatusUnauthorized:
		return "", fmt.Errorf("%w: %s", ErrSecretPermission, key)
	}
	if resp.IsError() {
		return "", apiError("get secret", resp)
	}
	return out.Value, nil
}

// Notification is one delivery-outcome record for a run notification.
type Notification struct {
	Run        string
	Person     int
	Category   string
	Object     string
	Mode       string
	Body       string
	ReturnCode int
	ErrorText  string
}

// PostNotification records a notification delivery attempt, success or
// failure. Outcomes are never silently dropped.
func (c *Client) PostNotification(ctx context.Context, n Notification) error {
	form := map[string]string{
		"run":         n.Run,
		"person":      strconv.Itoa(n.Person),
		"category":    n.Category,
		"object":      n.Object,
		"mode":        n.Mode,
		"body":        n.Body,
		"return_code": strconv.Itoa(n.ReturnCode),
	}
	if n.ErrorText != "" {
		form["error_text"] = n.ErrorText
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(notificationEndpoint)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		return apiError("post notification", resp)
	}
	return nil
}

// ExecuteTask asks the coordination service to trigger an execution of the
// task through its own pipeline.
func (c *Client) ExecuteTask(ctx context.Context, taskID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(executeEndpoint + "/" + taskID)
	if err != nil {
		return fmt.Errorf("execute task: %w", err)
	}
	if resp.IsError() {
		return apiError("execute task", resp)
	}
	return nil
}

func apiError(op string, resp *resty.Response) error {
	return fmt.Errorf("%s: spruce api returned %d: %s", op, resp.StatusCode(), resp.String())
}
