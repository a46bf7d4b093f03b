// Package feishusdk wraps the lark SDK calls the ledger mirror needs:
// creating and updating bitable records.
package feishusdk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/httprunner/DevicePool/internal/config"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkbitable "github.com/larksuite/oapi-sdk-go/v3/service/bitable/v1"
	"github.com/pkg/errors"
)

const defaultHTTPTimeout = 60 * time.Second

type recordAPI interface {
	Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
	Update(ctx context.Context, appToken, tableID, recordID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error)
}

type larkRecordService interface {
	Create(ctx context.Context, req *larkbitable.CreateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error)
	Update(ctx context.Context, req *larkbitable.UpdateAppTableRecordReq, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error)
}

type sdkRecordAPI struct {
	svc larkRecordService
}

func (a sdkRecordAPI) Create(ctx context.Context, appToken, tableID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.CreateAppTableRecordResp, error) {
	req := larkbitable.NewCreateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		AppTableRecord(record).
		Build()
	return a.svc.Create(ctx, req, options...)
}

func (a sdkRecordAPI) Update(ctx context.Context, appToken, tableID, recordID string, record *larkbitable.AppTableRecord, options ...larkcore.RequestOptionFunc) (*larkbitable.UpdateAppTableRecordResp, error) {
	req := larkbitable.NewUpdateAppTableRecordReqBuilder().
		AppToken(appToken).
		TableId(tableID).
		RecordId(recordID).
		AppTableRecord(record).
		Build()
	return a.svc.Update(ctx, req, options...)
}

// Table identifies one bitable table.
type Table struct {
	AppToken string
	TableID  string
}

// Client creates and updates records in Feishu bitables.
type Client struct {
	records recordAPI
}

// NewClientFromEnv builds a Client from FEISHU_APP_ID / FEISHU_APP_SECRET
// and the optional FEISHU_BASE_URL.
func NewClientFromEnv() (*Client, error) {
	appID := config.String("FEISHU_APP_ID", "")
	appSecret := config.String("FEISHU_APP_SECRET", "")
	baseURL := strings.TrimRight(config.String("FEISHU_BASE_URL", ""), "/")
	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu: FEISHU_APP_ID and FEISHU_APP_SECRET must be set in environment")
	}
	opts := []lark.ClientOptionFunc{
		lark.WithLogLevel(larkcore.LogLevelError),
		lark.WithReqTimeout(defaultHTTPTimeout),
	}
	if baseURL != "" && baseURL != lark.FeishuBaseUrl {
		opts = append(opts, lark.WithOpenBaseUrl(baseURL))
	}
	cli := lark.NewClient(appID, appSecret, opts...)
	return &Client{records: sdkRecordAPI{svc: cli.Bitable.V1.AppTableRecord}}, nil
}

// CreateRecord inserts a record and returns its record id.
func (c *Client) CreateRecord(ctx context.Context, table Table, fields map[string]any) (string, error) {
	if err := table.validate(); err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", errors.New("feishu: no fields provided for creation")
	}
	record := larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()
	resp, err := c.records.Create(ctx, table.AppToken, table.TableID, record)
	if err != nil {
		return "", errors.Wrap(err, "feishu: create record request failed")
	}
	if resp == nil {
		return "", errors.New("feishu: empty response when creating record")
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu: create record failed code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || resp.Data.Record == nil {
		return "", errors.New("feishu: create record response missing record")
	}
	id := strings.TrimSpace(larkcore.StringValue(resp.Data.Record.RecordId))
	if id == "" {
		return "", errors.New("feishu: create record response missing record id")
	}
	return id, nil
}

// UpdateRecord overwrites the given fields of recordID.
func (c *Client) UpdateRecord(ctx context.Context, table Table, recordID string, fields map[string]any) error {
	if err := table.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(recordID) == "" {
		return errors.New("feishu: record id is empty")
	}
	if len(fields) == 0 {
		return errors.New("feishu: no fields provided for update")
	}
	record := larkbitable.NewAppTableRecordBuilder().Fields(fields).Build()
	resp, err := c.records.Update(ctx, table.AppToken, table.TableID, recordID, record)
	if err != nil {
		return errors.Wrap(err, "feishu: update record request failed")
	}
	if resp == nil {
		return errors.New("feishu: empty response when updating record")
	}
	if !resp.Success() {
		return fmt.Errorf("feishu: update record failed code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func (t Table) validate() error {
	if strings.TrimSpace(t.AppToken) == "" || strings.TrimSpace(t.TableID) == "" {
		return errors.New("feishu: bitable app token and table id are required")
	}
	return nil
}
