package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard/domain"
)

const (
	tasksPartition = "tasks"

	edmInt64    = "Edm.Int64"
	edmDateTime = "Edm.DateTime"
)

// entityClient is the part of *aztables.Client the store uses.
type entityClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables stores tasks in a single Azure Table partition.
type Tables struct {
	table entityClient
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tableName string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tableName)}, nil
}

type taskEntity struct {
	aztables.Entity
	TaskID        int64     `json:"TaskId,string"`
	TaskIDType    string    `json:"TaskId@odata.type"`
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Status        string    `json:"Status"`
	Priority      string    `json:"Priority"`
	Assigned      bool      `json:"Assigned"`
	AssignedTo    int64     `json:"AssignedTo,string"`
	AssignedType  string    `json:"AssignedTo@odata.type"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func toEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: tasksPartition, RowKey: rowKey(t.ID)},
		TaskID:        t.ID,
		TaskIDType:    edmInt64,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		AssignedType:  edmInt64,
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
		UpdatedAt:     t.UpdatedAt.UTC(),
		UpdatedAtType: edmDateTime,
	}
	if id, ok := t.Assignee(); ok {
		ent.Assigned = true
		ent.AssignedTo = id
	}
	return ent
}

func (e taskEntity) task() domain.Task {
	t := domain.Task{
		ID:          e.TaskID,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
	}
	if e.Assigned {
		v := e.AssignedTo
		t.AssignedTo = &v
	}
	return t
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

func responseStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (s *Tables) Get(ctx context.Context, id int64) (*domain.Task, error) {
	resp, err := s.table.GetEntity(ctx, tasksPartition, rowKey(id), nil)
	if err != nil {
		if responseStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Tables) List(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortByID(tasks)
	return tasks, nil
}

func (s *Tables) Insert(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(toEntity(t))
	if err != nil {
		return err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		if responseStatus(err) == http.StatusConflict {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

func (s *Tables) Replace(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(toEntity(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		if responseStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Tables) Delete(ctx context.Context, id int64) (bool, error) {
	if _, err := s.table.DeleteEntity(ctx, tasksPartition, rowKey(id), nil); err != nil {
		if responseStatus(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Tables) MaxID(ctx context.Context) (int64, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	return tasks[len(tasks)-1].ID, nil
}
