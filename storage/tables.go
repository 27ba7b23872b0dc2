package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// TablesKV keeps application state in an Azure Storage table, one entity per key.
// All keys live in a single partition so the store behaves like one browser profile.
type TablesKV struct {
	table     tableClient
	partition string
}

type tableClient interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// NewTablesKV creates a table backed store from a storage connection string.
func NewTablesKV(connStr, table, partition string) (*TablesKV, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTablesKV(svc.NewClient(table), partition), nil
}

func newTablesKV(client tableClient, partition string) *TablesKV {
	if partition == "" {
		partition = "local"
	}
	return &TablesKV{table: client, partition: partition}
}

// EnsureTable creates the backing table if it does not exist yet.
func (t *TablesKV) EnsureTable(ctx context.Context) error {
	_, err := t.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// Azure Tables caps a string property at 64 KiB of UTF-16 and an entity at
// 1 MiB, so long values are spread over Value, Value1, Value2 and so on.
const (
	maxPropertyUnits = 32 << 10
	maxValueChunks   = 15
)

// ErrValueTooLarge is returned by TablesKV.Set for values that do not fit in one entity.
var ErrValueTooLarge = errors.New("value exceeds the table entity size limit")

func chunkName(i int) string {
	if i == 0 {
		return "Value"
	}
	return "Value" + strconv.Itoa(i)
}

// splitUTF16 cuts s on rune boundaries into pieces of at most n UTF-16 code units.
func splitUTF16(s string, n int) []string {
	var chunks []string
	start, units := 0, 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if units+w > n {
			chunks = append(chunks, s[start:i])
			start, units = i, 0
		}
		units += w
	}
	return append(chunks, s[start:])
}

func encodeValueEntity(partition, key, value string) ([]byte, error) {
	chunks := splitUTF16(value, maxPropertyUnits)
	if len(chunks) > maxValueChunks {
		return nil, fmt.Errorf("%s: %w", key, ErrValueTooLarge)
	}
	ent := map[string]any{"PartitionKey": partition, "RowKey": key}
	for i, c := range chunks {
		ent[chunkName(i)] = c
	}
	return sonic.Marshal(ent)
}

func decodeValueEntity(data []byte) (string, error) {
	var ent map[string]any
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 0; ; i++ {
		raw, ok := ent[chunkName(i)]
		if !ok {
			break
		}
		part, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("entity property %s is %T, not a string", chunkName(i), raw)
		}
		b.WriteString(part)
	}
	return b.String(), nil
}

func (t *TablesKV) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := t.table.GetEntity(ctx, t.partition, key, nil)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	v, err := decodeValueEntity(resp.Value)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (t *TablesKV) Set(ctx context.Context, key, value string) error {
	payload, err := encodeValueEntity(t.partition, key, value)
	if err != nil {
		return err
	}
	_, err = t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t *TablesKV) Remove(ctx context.Context, key string) error {
	_, err := t.table.DeleteEntity(ctx, t.partition, key, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
