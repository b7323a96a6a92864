package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// TableStore is the Azure Table storage driver. The path's first segment
// selects a table (Users, Tasks); a two-segment path addresses an entity
// keyed by itself, a three-segment path addresses an entity inside a
// user's partition. Change signals travel over Redis pub/sub so that
// subscriptions work across instances; mutations are optionally mirrored
// onto a storage queue as a change-event feed.
type TableStore struct {
	tables     map[string]*aztables.Client
	notifier   *redisNotifier
	eventQueue *azqueue.QueueClient
}

// TableStoreConfig carries the backend wiring for NewTableStore.
type TableStoreConfig struct {
	ConnectionString string
	UsersTable       string
	TasksTable       string
	Redis            *redis.Client
	ChannelPrefix    string
	// EventQueue names the change-event feed queue. Empty disables the feed.
	EventQueue string
}

// NewTableStore creates a TableStore from the given configuration.
func NewTableStore(cfg TableStoreConfig) (*TableStore, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &TableStore{
		tables: map[string]*aztables.Client{
			"Users": svc.NewClient(cfg.UsersTable),
			"Tasks": svc.NewClient(cfg.TasksTable),
		},
		notifier: newRedisNotifier(cfg.Redis, cfg.ChannelPrefix),
	}
	if cfg.EventQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.EventQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.eventQueue = q
	}
	return s, nil
}

func (s *TableStore) keysForPath(path string) (table *aztables.Client, pk, rk string, err error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, "", "", err
	}
	table, ok := s.tables[segs[0]]
	if !ok {
		return nil, "", "", fmt.Errorf("%w: unknown collection %q", ErrInvalidPath, segs[0])
	}
	switch len(segs) {
	case 2:
		return table, segs[1], segs[1], nil
	case 3:
		return table, segs[1], segs[2], nil
	default:
		return nil, "", "", fmt.Errorf("%w: %q does not address a record", ErrInvalidPath, path)
	}
}

func (s *TableStore) GetOnce(ctx context.Context, path string) (json.RawMessage, error) {
	table, pk, rk, err := s.keysForPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	resp, err := table.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	rec, err := stripEntityMetadata(resp.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return rec, nil
}

func (s *TableStore) Write(ctx context.Context, path string, record any) error {
	table, pk, rk, err := s.keysForPath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	payload, err := entityPayload(pk, rk, record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	mode := aztables.UpdateModeReplace
	if _, err := table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.changed(ctx, path, "write")
	return nil
}

func (s *TableStore) Push(ctx context.Context, path string, record any) (string, error) {
	key := uuid.NewString()
	childPath := joinPath(path, key)
	table, pk, rk, err := s.keysForPath(childPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	payload, err := entityPayload(pk, rk, record)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := table.AddEntity(ctx, payload, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.changed(ctx, childPath, "push")
	return key, nil
}

func (s *TableStore) Remove(ctx context.Context, path string) error {
	table, pk, rk, err := s.keysForPath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if _, err := table.DeleteEntity(ctx, pk, rk, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.changed(ctx, path, "remove")
	return nil
}

func (s *TableStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
	}
	if len(segs) != 2 {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrSubscriptionFailed, path)
	}
	table, ok := s.tables[segs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %q", ErrSubscriptionFailed, segs[0])
	}
	pk := segs[1]
	changes, stop := s.notifier.Watch(ctx, path)
	fetch := func(ctx context.Context) (Snapshot, error) {
		return listPartition(ctx, table, pk)
	}
	return runWatch(ctx, fetch, changes, stop), nil
}

// changed fans the mutation out: a pub/sub signal for the record's
// collection, plus a change-event message when the feed is configured.
func (s *TableStore) changed(ctx context.Context, path, op string) {
	collection := path
	if segs, err := splitPath(path); err == nil && len(segs) > 2 {
		collection = joinSegments(segs[:len(segs)-1])
	}
	s.notifier.Publish(ctx, collection)
	if s.eventQueue == nil {
		return
	}
	ev := changeEvent{Path: path, Op: op, Time: time.Now().UnixNano()}
	data, err := json.Marshal(ev)
	if err != nil {
		log.WithField("path", path).Errorf("marshal change event: %v", err)
		return
	}
	if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
		log.WithField("path", path).Errorf("enqueue change event: %v", err)
	}
}

type changeEvent struct {
	Path string `json:"path"`
	Op   string `json:"op"`
	Time int64  `json:"time"`
}

func listPartition(ctx context.Context, table *aztables.Client, pk string) (Snapshot, error) {
	filter := "PartitionKey eq '" + pk + "'"
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	snap := Snapshot{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var keys struct {
				RowKey string `json:"RowKey"`
			}
			if err := json.Unmarshal(e, &keys); err != nil {
				return nil, err
			}
			rec, err := stripEntityMetadata(e)
			if err != nil {
				return nil, err
			}
			snap = append(snap, Child{Key: keys.RowKey, Data: rec})
		}
	}
	return snap, nil
}

// entityPayload flattens record into a table entity carrying the given keys.
func entityPayload(pk, rk string, record any) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	ent := map[string]any{}
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	ent["PartitionKey"] = pk
	ent["RowKey"] = rk
	return json.Marshal(ent)
}

// stripEntityMetadata drops the table bookkeeping properties, leaving the
// record as the caller wrote it.
func stripEntityMetadata(data []byte) (json.RawMessage, error) {
	ent := map[string]any{}
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	for k := range ent {
		if k == "PartitionKey" || k == "RowKey" || k == "Timestamp" || strings.Contains(k, "odata") {
			delete(ent, k)
		}
	}
	return json.Marshal(ent)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
