package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

// VersionInfo is the index entry of a named version.
type VersionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// VersionData is the full working set captured by a version or held in the active slot.
type VersionData struct {
	Tasks                 []matrix.Task      `json:"tasks"`
	CompanyAssignments    matrix.Assignments `json:"companyAssignments"`
	DepartmentAssignments matrix.Assignments `json:"departmentAssignments"`
	Markdown              string             `json:"markdown"`
	Departments           []store.Department `json:"departments"`
	Staff                 []store.Staff      `json:"staff"`
}

// FindTask returns the task with the given id.
func (d VersionData) FindTask(id string) (matrix.Task, bool) {
	for _, task := range d.Tasks {
		if task.ID == id {
			return task, true
		}
	}
	return matrix.Task{}, false
}

// Versions is the named-version index plus one payload per version.
type Versions struct {
	store kv.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewVersions(store kv.Store, log *zap.Logger) *Versions {
	return &Versions{store: store, log: logger.OrNop(log), now: time.Now}
}

func payloadKey(id string) string {
	return keyVersionPrefix + id
}

// List returns the index newest first. A missing or unreadable index is empty.
func (v *Versions) List(ctx context.Context) []VersionInfo {
	var index []VersionInfo
	if !readJSON(ctx, v.store, v.log, keyVersionIndex, &index) {
		return []VersionInfo{}
	}
	sortIndex(index)
	return index
}

// load reads the index for a mutation.
func (v *Versions) load(ctx context.Context) ([]VersionInfo, error) {
	var index []VersionInfo
	if err := loadJSON(ctx, v.store, keyVersionIndex, &index); err != nil {
		return nil, err
	}
	sortIndex(index)
	return index, nil
}

// Save stores data under a fresh id and returns the updated index.
func (v *Versions) Save(ctx context.Context, name string, data VersionData) ([]VersionInfo, error) {
	existing, err := v.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("save version: %w", err)
	}
	now := v.now().UTC()
	info := VersionInfo{
		ID:        util.NewTimedID("ver", now),
		Name:      name,
		Timestamp: now,
	}
	if err := kv.SetJSON(ctx, v.store, payloadKey(info.ID), data); err != nil {
		return nil, fmt.Errorf("save version payload: %w", err)
	}

	index := append([]VersionInfo{info}, existing...)
	sortIndex(index)
	if err := kv.SetJSON(ctx, v.store, keyVersionIndex, index); err != nil {
		// drop the payload the index will never name
		_ = v.store.Delete(ctx, payloadKey(info.ID))
		return nil, fmt.Errorf("save version index: %w", err)
	}
	v.log.Info("version saved", zap.String("version_id", info.ID), zap.String("name", name))
	return index, nil
}

// Data returns the payload of a version. The boolean is false when there is none.
func (v *Versions) Data(ctx context.Context, id string) (VersionData, bool) {
	var data VersionData
	if !readJSON(ctx, v.store, v.log, payloadKey(id), &data) {
		return VersionData{}, false
	}
	return data, true
}

// Info returns the index entry for id.
func (v *Versions) Info(ctx context.Context, id string) (VersionInfo, bool) {
	for _, info := range v.List(ctx) {
		if info.ID == id {
			return info, true
		}
	}
	return VersionInfo{}, false
}

// Rename changes the name in the index. The payload is untouched.
func (v *Versions) Rename(ctx context.Context, id, name string) error {
	index, err := v.load(ctx)
	if err != nil {
		return fmt.Errorf("rename version: %w", err)
	}
	found := false
	for i := range index {
		if index[i].ID == id {
			index[i].Name = name
			found = true
		}
	}
	if !found {
		return kv.ErrNotFound
	}
	if err := kv.SetJSON(ctx, v.store, keyVersionIndex, index); err != nil {
		return fmt.Errorf("rename version: %w", err)
	}
	return nil
}

// Delete removes the index entry and the payload, and clears the active-version
// pointer when it names id. The active matrix data is independent and stays.
func (v *Versions) Delete(ctx context.Context, id string) error {
	index, err := v.load(ctx)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	var activeID string
	if err := loadJSON(ctx, v.store, keyActiveVersion, &activeID); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	kept := index[:0]
	found := false
	for _, info := range index {
		if info.ID == id {
			found = true
			continue
		}
		kept = append(kept, info)
	}
	if !found {
		return kv.ErrNotFound
	}
	if err := kv.SetJSON(ctx, v.store, keyVersionIndex, kept); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if err := v.store.Delete(ctx, payloadKey(id)); err != nil {
		return fmt.Errorf("delete version payload: %w", err)
	}
	if activeID == id {
		if err := v.store.Delete(ctx, keyActiveVersion); err != nil {
			return fmt.Errorf("clear active version: %w", err)
		}
	}
	v.log.Info("version deleted", zap.String("version_id", id))
	return nil
}

// ActiveID returns the id of the version last activated, or "".
func (v *Versions) ActiveID(ctx context.Context) string {
	var id string
	if !readJSON(ctx, v.store, v.log, keyActiveVersion, &id) {
		return ""
	}
	return id
}

func (v *Versions) SetActiveID(ctx context.Context, id string) error {
	if id == "" {
		return v.store.Delete(ctx, keyActiveVersion)
	}
	if err := kv.SetJSON(ctx, v.store, keyActiveVersion, id); err != nil {
		return fmt.Errorf("set active version: %w", err)
	}
	return nil
}

func sortIndex(index []VersionInfo) {
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].Timestamp.After(index[j].Timestamp)
	})
}

// ActiveMatrix is the single canonical slot read by goal tracking.
type ActiveMatrix struct {
	store kv.Store
	log   *zap.Logger
}

func NewActiveMatrix(store kv.Store, log *zap.Logger) *ActiveMatrix {
	return &ActiveMatrix{store: store, log: logger.OrNop(log)}
}

// Save overwrites the slot.
func (a *ActiveMatrix) Save(ctx context.Context, data VersionData) error {
	if err := kv.SetJSON(ctx, a.store, keyActiveMatrix, data); err != nil {
		return fmt.Errorf("save active matrix: %w", err)
	}
	return nil
}

// Load returns the slot. The boolean is false when nothing was ever activated.
func (a *ActiveMatrix) Load(ctx context.Context) (VersionData, bool) {
	var data VersionData
	if !readJSON(ctx, a.store, a.log, keyActiveMatrix, &data) {
		return VersionData{}, false
	}
	return data, true
}
