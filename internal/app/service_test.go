package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bizmatrix/api/internal/ai"
	"bizmatrix/api/internal/config"
	"bizmatrix/api/internal/kpi"
	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/store"
)

// fakeStore keeps the organisation in memory. The Fn fields override single methods
// so tests can inject failures.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	departments map[string]store.Department
	staff       map[string]store.Staff
	goals       map[string]store.Goal
	goalDeletes int
	refresh     map[string]string
	revoked     map[string]bool

	insertDepartmentFn func(context.Context, store.Department) error
	deleteDepartmentFn func(context.Context, string) error
	updateGoalFn       func(context.Context, store.Goal) error
	pingFn             func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		departments: map[string]store.Department{},
		staff:       map[string]store.Staff{},
		goals:       map[string]store.Goal{},
		refresh:     map[string]string{},
		revoked:     map[string]bool{},
	}
}

func (f *fakeStore) addUser(id, name, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.User{ID: id, DisplayName: name, Role: role}
}

func (f *fakeStore) EnsureUserByName(_ context.Context, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.DisplayName == name {
			return user, nil
		}
	}
	role := "editor"
	if len(f.users) == 0 {
		role = "admin"
	}
	user := store.User{ID: "usr-" + strings.ToLower(name), DisplayName: name, Role: role}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) SetUserRole(_ context.Context, id, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	f.users[id] = user
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	userID, ok := f.refresh[hash]
	f.mu.Unlock()
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.GetUserByID(ctx, userID)
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) ListDepartments(context.Context) ([]store.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Department, 0, len(f.departments))
	for _, d := range f.departments {
		items = append(items, d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}

func (f *fakeStore) GetDepartment(_ context.Context, code string) (store.Department, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.departments[code]
	if !ok {
		return store.Department{}, sql.ErrNoRows
	}
	return d, nil
}

func (f *fakeStore) InsertDepartment(ctx context.Context, d store.Department) error {
	if f.insertDepartmentFn != nil {
		return f.insertDepartmentFn(ctx, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.departments[d.Code] = d
	return nil
}

func (f *fakeStore) UpdateDepartment(_ context.Context, d store.Department) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.departments[d.Code]; !ok {
		return sql.ErrNoRows
	}
	f.departments[d.Code] = d
	return nil
}

func (f *fakeStore) DeleteDepartment(ctx context.Context, code string) error {
	if f.deleteDepartmentFn != nil {
		return f.deleteDepartmentFn(ctx, code)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.departments[code]; !ok {
		return sql.ErrNoRows
	}
	delete(f.departments, code)
	return nil
}

func (f *fakeStore) CountStaffInDepartment(_ context.Context, code string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.staff {
		if p.DepartmentCode == code {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListStaff(_ context.Context, code string) ([]store.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Staff, 0, len(f.staff))
	for _, p := range f.staff {
		if code == "" || p.DepartmentCode == code {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (f *fakeStore) GetStaff(_ context.Context, id string) (store.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.staff[id]
	if !ok {
		return store.Staff{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertStaff(_ context.Context, p store.Staff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staff[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateStaff(_ context.Context, p store.Staff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.staff[p.ID]; !ok {
		return sql.ErrNoRows
	}
	f.staff[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteStaff(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.staff[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.staff, id)
	for goalID, goal := range f.goals {
		if goal.EmployeeID == id {
			delete(f.goals, goalID)
		}
	}
	return nil
}

func (f *fakeStore) ListGoals(_ context.Context, employeeID string) ([]store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Goal, 0, len(f.goals))
	for _, g := range f.goals {
		if employeeID == "" || g.EmployeeID == employeeID {
			items = append(items, cloneGoal(g))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (f *fakeStore) GetGoal(_ context.Context, id string) (store.Goal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.goals[id]
	if !ok {
		return store.Goal{}, sql.ErrNoRows
	}
	return cloneGoal(g), nil
}

// cloneGoal copies the KPI slice so callers cannot mutate stored state in place.
func cloneGoal(g store.Goal) store.Goal {
	g.KPIs = append([]kpi.KPI(nil), g.KPIs...)
	return g
}

func (f *fakeStore) InsertGoal(_ context.Context, g store.Goal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goals[g.ID] = g
	return nil
}

func (f *fakeStore) UpdateGoal(ctx context.Context, g store.Goal) error {
	if f.updateGoalFn != nil {
		return f.updateGoalFn(ctx, g)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.goals[g.ID]; !ok {
		return sql.ErrNoRows
	}
	f.goals[g.ID] = g
	return nil
}

func (f *fakeStore) DeleteGoal(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.goals[id]; !ok {
		return sql.ErrNoRows
	}
	f.goalDeletes++
	delete(f.goals, id)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeCollaborator struct {
	textFn func(prompt string) (string, error)
	jsonFn func(prompt string) (string, error)
	chatFn func(prompt string, file *ai.File) (string, error)
}

func (f fakeCollaborator) GenerateText(_ context.Context, prompt string) (string, error) {
	if f.textFn == nil {
		return "", errors.New("no text response scripted")
	}
	return f.textFn(prompt)
}

func (f fakeCollaborator) GenerateJSON(_ context.Context, prompt string, _ []ai.File) (string, error) {
	if f.jsonFn == nil {
		return "", errors.New("no json response scripted")
	}
	return f.jsonFn(prompt)
}

func (f fakeCollaborator) Chat(_ context.Context, prompt string, file *ai.File) (string, error) {
	if f.chatFn == nil {
		return "", errors.New("no chat response scripted")
	}
	return f.chatFn(prompt, file)
}

// failingKV accepts reads and rejects every write.
type failingKV struct {
	kv.Store
}

func (failingKV) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

// switchKV fails writes while failWrites is set.
type switchKV struct {
	kv.Store
	failWrites bool
}

func (s *switchKV) Set(ctx context.Context, key string, value []byte) error {
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.Store.Set(ctx, key, value)
}

type fakeAttachments struct {
	puts    []string
	removed []string
}

func (f *fakeAttachments) Put(_ context.Context, conversationID, name, _ string, _ []byte) (string, error) {
	key := "conversations/" + conversationID + "/" + name
	f.puts = append(f.puts, key)
	return key, nil
}

func (f *fakeAttachments) Get(context.Context, string) ([]byte, string, error) {
	return nil, "", kv.ErrNotFound
}

func (f *fakeAttachments) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeAttachments) RemoveConversation(context.Context, string) error {
	return nil
}

type testEnv struct {
	service *Service
	server  *HTTPServer
	store   *fakeStore
	kv      kv.Store
}

func newTestEnv(t *testing.T, collab ai.Collaborator) *testEnv {
	t.Helper()
	return newTestEnvWithKV(t, collab, kv.NewMemory())
}

func newTestEnvWithKV(t *testing.T, collab ai.Collaborator, kvStore kv.Store) *testEnv {
	t.Helper()
	repos, err := repo.New(kvStore, "test-secret", nil)
	if err != nil {
		t.Fatalf("build repositories: %v", err)
	}
	fs := newFakeStore()
	svc := NewService(Deps{
		Config: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			AITimeout:  5 * time.Second,
		},
		Store:    fs,
		KV:       kvStore,
		Repos:    repos,
		Exchange: orchestrator.NewExchange(collab, nil),
	})
	return &testEnv{
		service: svc,
		server:  NewHTTPServer(svc, "*", nil),
		store:   fs,
		kv:      kvStore,
	}
}

// login seeds a user with the given role and returns an access token.
func (e *testEnv) login(t *testing.T, name, role string) string {
	t.Helper()
	e.store.addUser("usr-"+strings.ToLower(name), name, role)
	session, err := e.service.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return session.Token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	if got, _ := decodeJSON(t, rr)["code"].(string); got != code {
		t.Fatalf("expected code %s, got %q body=%s", code, got, rr.Body.String())
	}
}

func sampleTasks() []matrix.Task {
	return []matrix.Task{
		{ID: "t-head", Name: "Quản lý tài chính", IsGroupHeader: true, RowNumber: 1},
		{ID: "t-a1", Levels: matrix.Levels{MC1: "A1"}, Name: "Lập kế hoạch tài chính", RowNumber: 2},
		{ID: "t-a2", Levels: matrix.Levels{MC1: "A2"}, Name: "Báo cáo thuế", RowNumber: 3},
	}
}

func sampleVersionData() repo.VersionData {
	return repo.VersionData{
		Tasks: sampleTasks(),
		CompanyAssignments: matrix.Assignments{
			"t-a1": {"TC": "Q,T"},
			"t-a2": {"TC": "T", "KD": "Q"},
		},
		DepartmentAssignments: matrix.Assignments{
			"t-a1": {"stf-1": "Q"},
		},
		Departments: []store.Department{
			{Code: "TC", Name: "Tài chính", Priority: 1},
			{Code: "KD", Name: "Kinh doanh", Priority: 2},
		},
		Staff: []store.Staff{
			{ID: "stf-1", Name: "Lan", Title: "Kế toán trưởng", DepartmentCode: "TC"},
		},
	}
}

func mustJSON(t *testing.T, value any) string {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestServiceLoginTrimsName(t *testing.T) {
	env := newTestEnv(t, fakeCollaborator{})
	session, err := env.service.Login(context.Background(), "  Avery  ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.UserName != "Avery" {
		t.Fatalf("expected trimmed name Avery, got %q", session.UserName)
	}
	if session.Role != "admin" {
		t.Fatalf("expected first user to be admin, got %q", session.Role)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", session)
	}
}

func TestServiceRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t, fakeCollaborator{})
	ctx := context.Background()
	first, err := env.service.Login(ctx, "Avery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := env.service.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := env.service.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatalf("expected the used refresh token to be rejected")
	}
}

func TestServiceLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv(t, fakeCollaborator{})
	ctx := context.Background()
	session, err := env.service.Login(ctx, "Avery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	parsed, err := env.service.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if err := env.service.Logout(ctx, parsed, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.service.SessionFromToken(ctx, session.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
}

func TestServiceSetUserRoleRefusesSelfDemotion(t *testing.T) {
	env := newTestEnv(t, fakeCollaborator{})
	ctx := context.Background()
	env.store.addUser("usr-admin", "Admin", "admin")
	admin := Session{UserID: "usr-admin", Role: "admin"}

	if _, err := env.service.SetUserRole(ctx, admin, "usr-admin", "viewer"); err == nil {
		t.Fatalf("expected self demotion to be refused")
	}
	if _, err := env.service.SetUserRole(ctx, admin, "usr-admin", "owner"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	env.store.addUser("usr-b", "Bao", "editor")
	user, err := env.service.SetUserRole(ctx, admin, "usr-b", "viewer")
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if user.Role != "viewer" {
		t.Fatalf("expected viewer, got %q", user.Role)
	}
}

func TestParseTaskCSV(t *testing.T) {
	data := []byte("\xef\xbb\xbfcode,name\n,Quản lý tài chính\n0101,Lập ngân sách\n0102, Báo cáo thuế\n\n")
	tasks, err := parseTaskCSV(data)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if !tasks[0].IsGroupHeader || tasks[0].Name != "Quản lý tài chính" {
		t.Fatalf("expected group header first, got %+v", tasks[0])
	}
	want := matrix.FixedWidth.Decode("0101")
	if tasks[1].Levels != want {
		t.Fatalf("expected fixed-width levels %+v, got %+v", want, tasks[1].Levels)
	}
	if tasks[2].Name != "Báo cáo thuế" || tasks[2].RowNumber != 3 {
		t.Fatalf("unexpected third task %+v", tasks[2])
	}
}

func TestBuildExportDocument(t *testing.T) {
	doc := BuildExportDocument("Q1", "Công ty An Phát", sampleVersionData())
	if doc.Title != "Q1" || doc.Company != "Công ty An Phát" {
		t.Fatalf("unexpected header %+v", doc)
	}
	headings := make([]string, 0, len(doc.Sections))
	for _, section := range doc.Sections {
		headings = append(headings, section.Heading)
	}
	want := []string{"Task list", "Company assignment matrix", "Tài chính"}
	if strings.Join(headings, "|") != strings.Join(want, "|") {
		t.Fatalf("expected sections %v, got %v", want, headings)
	}
	if !strings.Contains(doc.Sections[2].Markdown, "| Lan |") {
		t.Fatalf("expected staff column in department section:\n%s", doc.Sections[2].Markdown)
	}

	empty := BuildExportDocument("Empty", "", repo.VersionData{})
	if len(empty.Sections) != 0 {
		t.Fatalf("expected no sections for an empty working set, got %d", len(empty.Sections))
	}
}

func TestBuildKPIsKeepsHistoryByCode(t *testing.T) {
	first, err := buildKPIs([]KPIInput{{Description: "Doanh thu", Baseline: 0, Target: 100}}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first[0].Code != "KPI1" {
		t.Fatalf("expected generated code KPI1, got %q", first[0].Code)
	}
	first[0].History = append(first[0].History, kpi.Entry{Date: "2026-01-02", Value: 40})

	second, err := buildKPIs([]KPIInput{{Code: "kpi1", Description: "Doanh thu", Baseline: 0, Target: 80}}, first)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(second[0].History) != 1 || second[0].Actual != 40 {
		t.Fatalf("expected history carried over, got %+v", second[0])
	}
	if second[0].Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", second[0].Progress)
	}

	if _, err := buildKPIs([]KPIInput{{Code: "A", Description: "x"}, {Code: "a", Description: "y"}}, nil); err == nil {
		t.Fatalf("expected duplicate codes to be rejected")
	}
}

func TestSendMessageUploadsAttachmentOnlyAfterReply(t *testing.T) {
	ctx := context.Background()
	calls := 0
	store := &switchKV{Store: kv.NewMemory()}
	env := newTestEnvWithKV(t, fakeCollaborator{chatFn: func(string, *ai.File) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("upstream timeout")
		}
		return "Đã đọc báo cáo", nil
	}}, store)
	files := &fakeAttachments{}
	env.service.attachments = files

	conv, err := env.service.CreateConversation(ctx, "Báo cáo")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	upload := &Upload{Name: "report.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")}

	if _, err := env.service.SendMessage(ctx, conv.ID, "Tóm tắt", upload); err == nil {
		t.Fatal("expected the failed chat turn to error")
	}
	if len(files.puts) != 0 {
		t.Fatalf("expected no upload for a failed turn, got %v", files.puts)
	}

	updated, err := env.service.SendMessage(ctx, conv.ID, "Tóm tắt", upload)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(files.puts) != 1 {
		t.Fatalf("expected one upload, got %v", files.puts)
	}
	if got := updated.Messages[0].Attachment; got == nil || got.ObjectKey != files.puts[0] {
		t.Fatalf("expected the user message to carry the object key, got %+v", got)
	}

	store.failWrites = true
	if _, err := env.service.SendMessage(ctx, conv.ID, "Thêm chi tiết", upload); err == nil {
		t.Fatal("expected the save failure to surface")
	}
	if len(files.puts) != 2 || len(files.removed) != 1 || files.removed[0] != files.puts[1] {
		t.Fatalf("expected the unsaved upload to be removed, puts=%v removed=%v", files.puts, files.removed)
	}
}
