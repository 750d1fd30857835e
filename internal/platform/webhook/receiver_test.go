package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/connection"
	"github.com/carelink/carelink/internal/domain/snapshot"
)

// -- Mocks --

type mockRegistry struct {
	connections []*connection.Connection
	synced      map[uuid.UUID]string
	failed      map[uuid.UUID]string
}

func newMockRegistry(conns ...*connection.Connection) *mockRegistry {
	return &mockRegistry{
		connections: conns,
		synced:      make(map[uuid.UUID]string),
		failed:      make(map[uuid.UUID]string),
	}
}

func (m *mockRegistry) ListByExternalID(_ context.Context, externalConnectionID string) ([]*connection.Connection, error) {
	var out []*connection.Connection
	for _, c := range m.connections {
		if c.ExternalConnectionID == externalConnectionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRegistry) MarkSynced(_ context.Context, id uuid.UUID, taskID string) error {
	m.synced[id] = taskID
	delete(m.failed, id)
	return nil
}

func (m *mockRegistry) MarkExportFailed(_ context.Context, id uuid.UUID, taskID, reason string) error {
	m.failed[id] = reason
	return nil
}

type mockDownloader struct {
	body  string
	err   error
	calls int
}

func (m *mockDownloader) Download(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.body, m.err
}

type mockIngestor struct {
	errFor map[uuid.UUID]error
	calls  []uuid.UUID
}

func (m *mockIngestor) Ingest(_ context.Context, connectionID, _ uuid.UUID, _ string) (*snapshot.Counts, error) {
	m.calls = append(m.calls, connectionID)
	if err := m.errFor[connectionID]; err != nil {
		return nil, err
	}
	return &snapshot.Counts{Observations: 1}, nil
}

func testConn(externalID string) *connection.Connection {
	return &connection.Connection{
		ID:                   uuid.New(),
		PatientID:            uuid.New(),
		ExternalConnectionID: externalID,
	}
}

func deliver(t *testing.T, r *Receiver, body string, headers map[string]string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	return rec, r.Handle(e.NewContext(req, rec))
}

func successEvent(externalID, link string) string {
	data := fmt.Sprintf(`{"external_connection_id":%q,"task_id":"task_1"`, externalID)
	if link != "" {
		data += fmt.Sprintf(`,"download_links":[%q]`, link)
	}
	return `{"type":"ehi_export.success","data":` + data + `}}`
}

func TestHandle_RejectsBadSecret(t *testing.T) {
	r := NewReceiver("s3cret", newMockRegistry(), &mockDownloader{}, &mockIngestor{}, zerolog.Nop())

	_, err := deliver(t, r, successEvent("ext_1", "http://x/f"), nil)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %v", err)
	}

	_, err = deliver(t, r, successEvent("ext_1", "http://x/f"), map[string]string{"X-Webhook-Secret": "wrong"})
	he, ok = err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong secret, got %v", err)
	}
}

func TestHandle_AcceptsAnySecretHeader(t *testing.T) {
	for _, header := range secretHeaders {
		reg := newMockRegistry()
		r := NewReceiver("s3cret", reg, &mockDownloader{}, &mockIngestor{}, zerolog.Nop())
		rec, err := deliver(t, r, successEvent("ext_1", ""), map[string]string{header: "s3cret"})
		if err != nil {
			t.Errorf("header %s: unexpected error: %v", header, err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("header %s: expected 200, got %d", header, rec.Code)
		}
	}
}

func TestHandle_NoSecretConfiguredAcceptsUnauthenticated(t *testing.T) {
	r := NewReceiver("", newMockRegistry(), &mockDownloader{}, &mockIngestor{}, zerolog.Nop())
	rec, err := deliver(t, r, successEvent("ext_1", ""), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandle_UnknownEventTypeAcked(t *testing.T) {
	r := NewReceiver("", newMockRegistry(), &mockDownloader{}, &mockIngestor{}, zerolog.Nop())
	rec, err := deliver(t, r, `{"type":"patient.updated","data":{}}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("unknown event types must be acknowledged, got %d", rec.Code)
	}
}

func TestHandle_ExportSuccess_FanOut(t *testing.T) {
	a, b := testConn("ext_shared"), testConn("ext_shared")
	other := testConn("ext_other")
	reg := newMockRegistry(a, b, other)
	dl := &mockDownloader{body: `{"resourceType":"Observation"}`}
	ing := &mockIngestor{}
	r := NewReceiver("", reg, dl, ing, zerolog.Nop())

	if _, err := deliver(t, r, successEvent("ext_shared", "http://partner/export/1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dl.calls != 1 {
		t.Errorf("expected the file downloaded once, got %d", dl.calls)
	}
	if len(ing.calls) != 2 {
		t.Fatalf("expected 2 ingests, got %d", len(ing.calls))
	}
	if reg.synced[a.ID] != "task_1" || reg.synced[b.ID] != "task_1" {
		t.Error("expected both matching connections marked synced")
	}
	if _, touched := reg.synced[other.ID]; touched {
		t.Error("non-matching connection must not be touched")
	}
}

func TestHandle_ExportSuccess_IsolatedFailure(t *testing.T) {
	a, b := testConn("ext_shared"), testConn("ext_shared")
	reg := newMockRegistry(a, b)
	ing := &mockIngestor{errFor: map[uuid.UUID]error{a.ID: errors.New("deadlock detected")}}
	r := NewReceiver("", reg, &mockDownloader{body: "{}"}, ing, zerolog.Nop())

	rec, err := deliver(t, r, successEvent("ext_shared", "http://partner/export/1"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("ingest failures must not surface to the partner, got %d", rec.Code)
	}

	if reg.failed[a.ID] != "deadlock detected" {
		t.Errorf("expected failure recorded on first connection, got %q", reg.failed[a.ID])
	}
	if reg.synced[b.ID] != "task_1" {
		t.Error("second connection must still be synced after the first one fails")
	}
}

func TestHandle_ExportSuccess_SingularDownloadLink(t *testing.T) {
	conn := testConn("ext_1")
	reg := newMockRegistry(conn)
	dl := &mockDownloader{body: "{}"}
	ing := &mockIngestor{}
	r := NewReceiver("", reg, dl, ing, zerolog.Nop())

	body := `{"type":"ehi_export.success","data":{"external_connection_id":"ext_1","task_id":"task_1","download_link":"http://partner/export/1"}}`
	if _, err := deliver(t, r, body, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 1 {
		t.Errorf("expected the singular link downloaded, got %d calls", dl.calls)
	}
	if reg.synced[conn.ID] != "task_1" {
		t.Error("expected connection marked synced via singular download_link")
	}
}

func TestHandle_ExportSuccess_NoDownloadLink(t *testing.T) {
	conn := testConn("ext_1")
	reg := newMockRegistry(conn)
	dl := &mockDownloader{}
	r := NewReceiver("", reg, dl, &mockIngestor{}, zerolog.Nop())

	if _, err := deliver(t, r, successEvent("ext_1", ""), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 0 {
		t.Error("nothing to download without a link")
	}
	if reg.failed[conn.ID] == "" {
		t.Error("expected failure reason recorded when the link is missing")
	}
}

func TestHandle_ExportSuccess_DownloadFailure(t *testing.T) {
	conn := testConn("ext_1")
	reg := newMockRegistry(conn)
	dl := &mockDownloader{err: errors.New("download export: status 403")}
	ing := &mockIngestor{}
	r := NewReceiver("", reg, dl, ing, zerolog.Nop())

	if _, err := deliver(t, r, successEvent("ext_1", "http://partner/export/1"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ing.calls) != 0 {
		t.Error("no ingest may run after a failed download")
	}
	if reg.failed[conn.ID] != "download export: status 403" {
		t.Errorf("expected download error recorded, got %q", reg.failed[conn.ID])
	}
}

func TestHandle_ExportSuccess_MissingExternalID(t *testing.T) {
	reg := newMockRegistry(testConn("ext_1"))
	r := NewReceiver("", reg, &mockDownloader{}, &mockIngestor{}, zerolog.Nop())

	rec, err := deliver(t, r, `{"type":"ehi_export.success","data":{"task_id":"task_1"}}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(reg.failed) != 0 || len(reg.synced) != 0 {
		t.Error("no connection may be touched without an external id")
	}
}

func TestHandle_ExportFailed(t *testing.T) {
	a, b := testConn("ext_shared"), testConn("ext_shared")
	reg := newMockRegistry(a, b)
	dl := &mockDownloader{}
	r := NewReceiver("", reg, dl, &mockIngestor{}, zerolog.Nop())

	body := `{"type":"ehi_export.failed","data":{"external_connection_id":"ext_shared","task_id":"task_2","reason":"consent_revoked"}}`
	if _, err := deliver(t, r, body, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 0 {
		t.Error("failed events must not trigger a download")
	}
	if reg.failed[a.ID] != "consent_revoked" || reg.failed[b.ID] != "consent_revoked" {
		t.Errorf("expected reason on both connections, got %q / %q", reg.failed[a.ID], reg.failed[b.ID])
	}
}

func TestHandle_ExportFailed_DefaultReason(t *testing.T) {
	conn := testConn("ext_1")
	reg := newMockRegistry(conn)
	r := NewReceiver("", reg, &mockDownloader{}, &mockIngestor{}, zerolog.Nop())

	body := `{"type":"ehi_export.failed","data":{"external_connection_id":"ext_1","task_id":"task_2"}}`
	if _, err := deliver(t, r, body, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.failed[conn.ID] != "export failed" {
		t.Errorf("expected default reason, got %q", reg.failed[conn.ID])
	}
}
