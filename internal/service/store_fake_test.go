package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

// fakeStore is an in-memory database.Store for engine tests.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*instance.Instance
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*instance.Instance)}
}

func (f *fakeStore) ListInstances(context.Context) ([]instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]instance.Instance, 0, len(f.rows))
	for _, inst := range f.rows {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) GetInstance(_ context.Context, id int64) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeStore) GetInstanceByKey(_ context.Context, key string) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, inst := range f.rows {
		if inst.Key == key {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) CreateInstance(_ context.Context, inst *instance.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.rows {
		if row.Key == inst.Key || row.Name == inst.Name {
			return domain.ErrConflict
		}
	}

	f.nextID++
	inst.ID = f.nextID
	inst.CreatedAt = time.Now()
	inst.UpdatedAt = inst.CreatedAt
	cp := *inst
	f.rows[inst.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateInstance(_ context.Context, inst *instance.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[inst.ID]
	if !ok {
		return domain.ErrNotFound
	}
	row.Name = inst.Name
	row.Config = inst.Config
	row.GowaVersion = inst.GowaVersion
	row.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) DeleteInstance(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, status instance.Status, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Status = status
	row.ErrorMessage = errMsg
	return nil
}

func (f *fakeStore) UpdatePort(_ context.Context, id int64, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Port = &port
	return nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status instance.Status) ([]instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []instance.Instance
	for _, inst := range f.rows {
		if inst.Status == status {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) AllocatedPorts(context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []int
	for _, inst := range f.rows {
		if inst.Port != nil {
			out = append(out, *inst.Port)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }
