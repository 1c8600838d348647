package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"bizmatrix/api/internal/archive"
	"bizmatrix/api/internal/export"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
	"bizmatrix/api/internal/util"
)

const (
	maxImportBytes = 2 << 20
	historyLimit   = 50
)

type SaveVersionInput struct {
	Name string           `json:"name" validate:"required,max=200"`
	Data repo.VersionData `json:"data"`
}

type SettingsInput struct {
	CompanyName        string  `json:"companyName" validate:"max=200"`
	Industry           string  `json:"industry" validate:"max=200"`
	CompanyDescription string  `json:"companyDescription" validate:"max=4000"`
	Language           string  `json:"language" validate:"omitempty,oneof=vi en"`
	AIModel            string  `json:"aiModel" validate:"max=100"`
	Temperature        float32 `json:"temperature" validate:"gte=0,lte=2"`
}

type APIKeyInput struct {
	Label    string `json:"label" validate:"max=100"`
	Key      string `json:"key" validate:"required"`
	Priority int    `json:"priority"`
}

// ActiveMatrixView is the active slot together with the version it came from.
type ActiveMatrixView struct {
	Exists          bool             `json:"exists"`
	ActiveVersionID string           `json:"activeVersionId"`
	Data            repo.VersionData `json:"data"`
}

func (s *Service) ParseTasks(markdown, strategy string) ([]matrix.Task, error) {
	tasks := matrix.ParseTaskTableWith(markdown, matrix.StrategyByName(strategy))
	if len(tasks) == 0 {
		return nil, &orchestrator.ErrParse{Operation: "parse task table", Reason: "no task table found"}
	}
	return tasks, nil
}

// ImportTasks reads an uploaded task file. CSV files carry code,name rows; anything
// else must contain a markdown table. Codes are decoded with the fixed-width strategy.
func (s *Service) ImportTasks(filename string, data []byte) ([]matrix.Task, error) {
	if len(data) == 0 {
		return nil, validationError("file is empty", nil)
	}
	if len(data) > maxImportBytes {
		return nil, validationError("file is too large", map[string]any{"maxBytes": maxImportBytes})
	}

	var tasks []matrix.Task
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		parsed, err := parseTaskCSV(data)
		if err != nil {
			return nil, validationError(err.Error(), nil)
		}
		tasks = parsed
	} else {
		tasks = matrix.ParseTaskTableWith(string(data), matrix.FixedWidth)
	}
	if len(tasks) == 0 {
		return nil, validationError("file contains no tasks", nil)
	}
	s.log.Info("tasks imported", zap.String("file", filename), zap.Int("tasks", len(tasks)))
	return tasks, nil
}

// parseTaskCSV reads code,name rows. A header row starting with "code" is skipped and
// rows without a code become group headers.
func parseTaskCSV(data []byte) ([]matrix.Task, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	tasks := make([]matrix.Task, 0)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "code") {
			continue
		}
		var code, name string
		switch len(record) {
		case 0:
			continue
		case 1:
			name = record[0]
		default:
			code, name = record[0], record[1]
		}
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if code == "" && name == "" {
			continue
		}
		task := matrix.Task{ID: util.NewID("task"), Name: name, RowNumber: len(tasks) + 1}
		if code == "" {
			task.IsGroupHeader = true
		} else {
			task.Levels = matrix.FixedWidth.Decode(code)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ParseAssignments reads an assignment table against existing tasks. Columns are
// departments unless departmentCode is set, in which case they are that department's staff.
func (s *Service) ParseAssignments(ctx context.Context, markdown string, tasks []matrix.Task, departmentCode string) (matrix.AssignmentParse, error) {
	departments, staff := s.organisation(ctx)
	columns := orchestrator.DepartmentAssignees(departments)
	if departmentCode != "" {
		columns = orchestrator.StaffAssignees(staffIn(staff, departmentCode))
	}
	parsed := matrix.ParseAssignmentTable(markdown, tasks, columns, matrix.AlignByKey)
	if parsed.Empty() {
		return parsed, domainError(http.StatusUnprocessableEntity, "PARSE_FAILED", "parse assignment table: table assigns no roles", map[string]any{
			"operation":      "parse assignment table",
			"unmatched":      parsed.Unmatched,
			"unknownColumns": parsed.UnknownColumns,
		})
	}
	return parsed, nil
}

func staffIn(staff []store.Staff, departmentCode string) []store.Staff {
	out := make([]store.Staff, 0)
	for _, member := range staff {
		if member.DepartmentCode == departmentCode {
			out = append(out, member)
		}
	}
	return out
}

func (s *Service) ListVersions(ctx context.Context) []repo.VersionInfo {
	return s.repos.Versions.List(ctx)
}

func (s *Service) SaveVersion(ctx context.Context, session Session, input SaveVersionInput) ([]repo.VersionInfo, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.check(input); err != nil {
		return nil, err
	}
	data := normalizeVersionData(input.Data)

	s.writeMu.Lock()
	index, err := s.repos.Versions.Save(ctx, input.Name, data)
	s.writeMu.Unlock()
	if err != nil {
		return nil, writeFailed("version", err)
	}
	if len(index) > 0 {
		s.archiveVersion(index[0], data, session.UserName, "Save version "+index[0].Name)
	}
	return index, nil
}

func (s *Service) GetVersion(ctx context.Context, id string) (repo.VersionInfo, repo.VersionData, error) {
	info, ok := s.repos.Versions.Info(ctx, id)
	if !ok {
		return repo.VersionInfo{}, repo.VersionData{}, notFound("Version not found")
	}
	data, ok := s.repos.Versions.Data(ctx, id)
	if !ok {
		return repo.VersionInfo{}, repo.VersionData{}, notFound("Version data not found")
	}
	return info, data, nil
}

func (s *Service) RenameVersion(ctx context.Context, session Session, id, name string) (repo.VersionInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repo.VersionInfo{}, validationError("name is required", nil)
	}
	s.writeMu.Lock()
	err := s.repos.Versions.Rename(ctx, id, name)
	s.writeMu.Unlock()
	if err != nil {
		return repo.VersionInfo{}, writeFailed("version", err)
	}
	info, _ := s.repos.Versions.Info(ctx, id)
	if data, ok := s.repos.Versions.Data(ctx, id); ok {
		s.archiveVersion(info, data, session.UserName, "Rename version to "+name)
	}
	return info, nil
}

func (s *Service) DeleteVersion(ctx context.Context, session Session, id string) error {
	s.writeMu.Lock()
	err := s.repos.Versions.Delete(ctx, id)
	s.writeMu.Unlock()
	if err != nil {
		return writeFailed("version", err)
	}
	if s.archive != nil {
		if _, err := s.archive.Remove(id, session.UserName); err != nil {
			s.log.Warn("archive remove failed", zap.String("version_id", id), zap.Error(err))
		}
	}
	return nil
}

// ActivateVersion copies a version into the active slot. It overwrites whatever goal
// tracking reads, so the caller must confirm.
func (s *Service) ActivateVersion(ctx context.Context, id string, confirm bool) (ActiveMatrixView, error) {
	if !confirm {
		return ActiveMatrixView{}, confirmationRequired("Activating replaces the active matrix")
	}
	data, ok := s.repos.Versions.Data(ctx, id)
	if !ok {
		return ActiveMatrixView{}, notFound("Version not found")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.repos.ActiveMatrix.Save(ctx, data); err != nil {
		return ActiveMatrixView{}, writeFailed("active matrix", err)
	}
	if err := s.repos.Versions.SetActiveID(ctx, id); err != nil {
		return ActiveMatrixView{}, writeFailed("active version", err)
	}
	s.log.Info("version activated", zap.String("version_id", id))
	return ActiveMatrixView{Exists: true, ActiveVersionID: id, Data: data}, nil
}

func (s *Service) ActiveMatrix(ctx context.Context) ActiveMatrixView {
	data, ok := s.repos.ActiveMatrix.Load(ctx)
	if !ok {
		return ActiveMatrixView{Data: normalizeVersionData(repo.VersionData{})}
	}
	return ActiveMatrixView{Exists: true, ActiveVersionID: s.repos.Versions.ActiveID(ctx), Data: data}
}

// SaveActiveMatrix writes the slot directly. The data no longer matches a saved
// version, so the active-version pointer is cleared.
func (s *Service) SaveActiveMatrix(ctx context.Context, data repo.VersionData, confirm bool) (ActiveMatrixView, error) {
	if !confirm {
		return ActiveMatrixView{}, confirmationRequired("Saving replaces the active matrix")
	}
	data = normalizeVersionData(data)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.repos.ActiveMatrix.Save(ctx, data); err != nil {
		return ActiveMatrixView{}, writeFailed("active matrix", err)
	}
	if err := s.repos.Versions.SetActiveID(ctx, ""); err != nil {
		return ActiveMatrixView{}, writeFailed("active version", err)
	}
	return ActiveMatrixView{Exists: true, Data: data}, nil
}

// VersionHistory lists archive commits. The boolean is false when no archive is configured.
func (s *Service) VersionHistory() ([]archive.CommitInfo, bool, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, false, nil
	}
	items, err := s.archive.History(historyLimit)
	if err != nil {
		return nil, true, err
	}
	return items, true, nil
}

// ArchivedVersion reads a version as it was at an archive commit. Versions deleted
// since that commit can still be read.
func (s *Service) ArchivedVersion(hash, id string) (archive.Entry, error) {
	if s.archive == nil {
		return archive.Entry{}, domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Version archive is not configured", nil)
	}
	entry, err := s.archive.VersionAt(hash, id)
	if errors.Is(err, archive.ErrNotArchived) {
		return archive.Entry{}, domainError(http.StatusNotFound, "NOT_FOUND", "Version is not in that archive commit", map[string]any{
			"commit":    hash,
			"versionId": id,
		})
	}
	if err != nil {
		return archive.Entry{}, err
	}
	return entry, nil
}

// RestoreArchivedVersion saves an archived version as a new named version. An empty
// name defaults to the archived name with a "(restored)" suffix.
func (s *Service) RestoreArchivedVersion(ctx context.Context, session Session, hash, id, name string) ([]repo.VersionInfo, error) {
	entry, err := s.ArchivedVersion(hash, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = entry.Name + " (restored)"
	}
	return s.SaveVersion(ctx, session, SaveVersionInput{Name: name, Data: entry.Data})
}

func (s *Service) archiveVersion(info repo.VersionInfo, data repo.VersionData, author, message string) {
	if s.archive == nil {
		return
	}
	if author == "" {
		author = "bizmatrix"
	}
	commit, err := s.archive.Record(info, data, author, message)
	if err != nil {
		s.log.Warn("archive record failed", zap.String("version_id", info.ID), zap.Error(err))
		return
	}
	s.log.Debug("version archived", zap.String("version_id", info.ID), zap.String("commit", commit.Hash))
}

func (s *Service) Settings(ctx context.Context) repo.AppSettings {
	return s.settings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, input SettingsInput) (repo.AppSettings, error) {
	input.CompanyName = strings.TrimSpace(input.CompanyName)
	input.Industry = strings.TrimSpace(input.Industry)
	input.Language = strings.ToLower(strings.TrimSpace(input.Language))
	if err := s.check(input); err != nil {
		return repo.AppSettings{}, err
	}
	settings := repo.AppSettings{
		CompanyName:        input.CompanyName,
		Industry:           input.Industry,
		CompanyDescription: strings.TrimSpace(input.CompanyDescription),
		Language:           input.Language,
		AIModel:            strings.TrimSpace(input.AIModel),
		Temperature:        input.Temperature,
	}
	if settings.Language == "" {
		settings.Language = repo.DefaultSettings().Language
	}
	if err := s.repos.Settings.Set(ctx, settings); err != nil {
		return repo.AppSettings{}, writeFailed("settings", err)
	}
	return settings, nil
}

func (s *Service) ListAPIKeys(ctx context.Context) []repo.APIKey {
	return s.repos.APIKeys.List(ctx)
}

func (s *Service) AddAPIKey(ctx context.Context, input APIKeyInput) (repo.APIKey, error) {
	input.Key = strings.TrimSpace(input.Key)
	input.Label = strings.TrimSpace(input.Label)
	if err := s.check(input); err != nil {
		return repo.APIKey{}, err
	}
	key, err := s.repos.APIKeys.Add(ctx, input.Label, input.Key, input.Priority)
	if err != nil {
		return repo.APIKey{}, writeFailed("api key", err)
	}
	s.log.Info("api key added", zap.String("key_id", key.ID), zap.String("masked", key.Masked))
	return key, nil
}

func (s *Service) DeleteAPIKey(ctx context.Context, id string) error {
	return writeFailed("api key", s.repos.APIKeys.Delete(ctx, id))
}

// ExportVersion renders a version, or the active matrix when id is "active".
func (s *Service) ExportVersion(ctx context.Context, id string, format export.Format) (*export.Result, error) {
	var (
		title string
		data  repo.VersionData
	)
	if id == "active" {
		view := s.ActiveMatrix(ctx)
		if !view.Exists {
			return nil, notFound("No active matrix")
		}
		title, data = "Active matrix", view.Data
	} else {
		info, versionData, err := s.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		title, data = info.Name, versionData
	}
	doc := BuildExportDocument(title, s.settings(ctx).CompanyName, data)
	doc.GeneratedAt = s.now()
	return s.exporter.Export(ctx, doc, format)
}

// BuildExportDocument lays a working set out as the task list, the company matrix and
// one staff matrix per department that has one.
func BuildExportDocument(title, company string, data repo.VersionData) export.Document {
	doc := export.Document{Title: title, Company: company}
	if len(data.Tasks) == 0 {
		return doc
	}
	doc.Sections = append(doc.Sections, export.Section{
		Heading:  "Task list",
		Markdown: matrix.SerializeTasksToTable(data.Tasks),
	})
	if len(data.Departments) > 0 {
		doc.Sections = append(doc.Sections, export.Section{
			Heading:  "Company assignment matrix",
			Markdown: matrix.SerializeAssignmentTable(data.Tasks, data.CompanyAssignments, orchestrator.DepartmentAssignees(data.Departments)),
		})
	}
	for _, dept := range data.Departments {
		members := staffIn(data.Staff, dept.Code)
		if len(members) == 0 {
			continue
		}
		scoped := orchestrator.TasksForAssignee(data.Tasks, data.CompanyAssignments, dept.Code)
		if !hasLeaf(scoped) {
			continue
		}
		doc.Sections = append(doc.Sections, export.Section{
			Heading:  dept.Name,
			Markdown: matrix.SerializeAssignmentTable(scoped, data.DepartmentAssignments, orchestrator.StaffAssignees(members)),
		})
	}
	return doc
}

func hasLeaf(tasks []matrix.Task) bool {
	for _, task := range tasks {
		if !task.IsGroupHeader {
			return true
		}
	}
	return false
}

func normalizeVersionData(data repo.VersionData) repo.VersionData {
	if data.Tasks == nil {
		data.Tasks = []matrix.Task{}
	}
	if data.CompanyAssignments == nil {
		data.CompanyAssignments = matrix.Assignments{}
	}
	if data.DepartmentAssignments == nil {
		data.DepartmentAssignments = matrix.Assignments{}
	}
	if data.Departments == nil {
		data.Departments = []store.Department{}
	}
	if data.Staff == nil {
		data.Staff = []store.Staff{}
	}
	return data
}

func confirmationRequired(message string) error {
	return domainError(http.StatusConflict, "CONFIRMATION_REQUIRED", message, map[string]any{"confirm": true})
}
