package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saksflyt/saksflyt/internal/extract"
	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/queue"
	"github.com/saksflyt/saksflyt/internal/rules"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// testDB backs the orchestrator integration tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "saksflyt",
			"POSTGRES_PASSWORD": "saksflyt",
			"POSTGRES_DB":       "saksflyt",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://saksflyt:saksflyt@%s:%s/saksflyt?sslmode=disable", host, port.Port())

	testDB, err = storage.New(ctx, dsn, testLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.RunMigrations(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// newTestOrchestrator wires a real extractor, rule engine, and queue service
// against the shared test database, with files rooted under a per-test dir.
func newTestOrchestrator(t *testing.T) (*Orchestrator, *storage.FileStore) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	dicts, err := extract.LoadDictionaries()
	require.NoError(t, err)
	extractor := extract.New(extract.DisabledOCR{}, extract.NewRegexNLP(dicts))
	engine := rules.New(extractor.HasDurationPhrase)
	queueSvc := queue.New(testDB, queue.Config{
		DailyManualCapacity:   40,
		HighPriorityThreshold: 70,
		SLAWindowLowDays:      21,
		SLAWindowMediumDays:   14,
		SLAWindowHighDays:     7,
	})

	o := New(testDB, files, extractor, engine, queueSvc, Config{
		WorkerPoolSize:   1,
		ExtractorTimeout: 10 * time.Second,
	}, testLogger())
	return o, files
}

func newPipelineUser(t *testing.T) model.User {
	t.Helper()
	u, err := testDB.CreateUser(context.Background(), model.User{
		Email:          fmt.Sprintf("applicant-%s@example.com", uuid.New()),
		HashedPassword: "salt$hash",
		IsActive:       true,
	})
	require.NoError(t, err)
	return u
}

func newPipelineCase(t *testing.T, ownerID uuid.UUID) model.Case {
	t.Helper()
	c, err := testDB.CreateCase(context.Background(), ownerID, model.CaseCreate{
		ApplicantFullName:    "Kari Nordmann",
		ApplicantNationality: "Swedish",
	})
	require.NoError(t, err)
	return c
}

// pdfWithText builds a minimal uncompressed PDF whose text layer the
// extractor can read without OCR.
func pdfWithText(text string) []byte {
	return []byte("%PDF-1.4\n1 0 obj\n<< /Type /Page >>\nendobj\nBT (" + text + ") Tj ET\n%%EOF\n")
}

// uploadPDF stores the bytes through the file store and registers the
// document, mirroring what the upload handler does.
func uploadPDF(t *testing.T, files *storage.FileStore, caseID uuid.UUID, docType, filename string, data []byte) model.Document {
	t.Helper()
	key, size, err := files.Save(caseID, filename, bytes.NewReader(data))
	require.NoError(t, err)

	doc, _, err := testDB.AddDocument(context.Background(), model.Document{
		CaseID:           caseID,
		DocumentType:     docType,
		OriginalFilename: filename,
		ContentType:      "application/pdf",
		SizeBytes:        size,
		StorageKey:       key,
	}, model.AuditEvent{CaseID: caseID, Action: model.AuditDocumentUploaded})
	require.NoError(t, err)
	return doc
}

// actionSequence returns the audit actions for a case in append order.
func actionSequence(t *testing.T, caseID uuid.UUID) []string {
	t.Helper()
	events, err := testDB.ListAudit(context.Background(), caseID)
	require.NoError(t, err)
	actions := make([]string, len(events))
	for i, e := range events {
		actions[i] = e.Action
	}
	return actions
}

// assertActionsInOrder verifies that want appears as a subsequence of the
// case's audit trail.
func assertActionsInOrder(t *testing.T, caseID uuid.UUID, want ...string) {
	t.Helper()
	actions := actionSequence(t, caseID)
	i := 0
	for _, a := range actions {
		if i < len(want) && a == want[i] {
			i++
		}
	}
	assert.Equal(t, len(want), i, "audit trail %v missing ordered actions %v", actions, want)
}

func TestProcessCaseEndToEnd(t *testing.T) {
	ctx := context.Background()
	o, files := newTestOrchestrator(t)

	owner := newPipelineUser(t)
	c := newPipelineCase(t, owner.ID)
	uploadPDF(t, files, c.ID, "passport", "passport.pdf",
		pdfWithText("Passport P1234567 issued to Kari Nordmann, swedish citizen, born 12.03.1990 in Stockholm"))
	uploadPDF(t, files, c.ID, "residence_permit", "permit.pdf",
		pdfWithText("Residence permit: holder has lived in Oslo with permanent residence since 14.06.2015"))

	queued, err := o.Enqueue(ctx, c.ID, owner.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, queued.Status)
	require.NotNil(t, queued.QueuedAt)

	o.drain(ctx, uuid.New(), testLogger())

	got, err := testDB.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewReady, got.Status)
	assert.Greater(t, got.ConfidenceScore, 0.0)
	require.NotNil(t, got.RiskLevel)
	require.NotNil(t, got.RecommendationSummary)
	require.NotNil(t, got.SLADueAt)
	assert.True(t, got.SLADueAt.After(*queued.QueuedAt))
	assert.Greater(t, got.PriorityScore, 0)

	// Identity and residency documents are present, so both rules pass with
	// full score and the breakdown covers the whole registry.
	results, err := testDB.ListRuleResults(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, results, 7)
	byCode := map[string]model.RuleResult{}
	for _, r := range results {
		byCode[r.RuleCode] = r
	}
	assert.True(t, byCode["identity_document_present"].Passed)
	assert.True(t, byCode["residency_evidence_present"].Passed)

	docs, err := testDB.ListDocuments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, model.DocumentProcessed, d.Status)
		require.NotNil(t, d.ExtractedText)
		assert.NotEmpty(t, *d.ExtractedText)
		assert.Equal(t, model.MethodDigitalText, d.ExtractedFields.Method)
	}

	assertActionsInOrder(t, c.ID,
		model.AuditDocumentUploaded,
		model.AuditProcessingQueued,
		model.AuditProcessingStarted,
		model.AuditProcessingCompleted,
	)
}

func TestForceReprocessResetsDocuments(t *testing.T) {
	ctx := context.Background()
	o, files := newTestOrchestrator(t)

	owner := newPipelineUser(t)
	c := newPipelineCase(t, owner.ID)
	doc := uploadPDF(t, files, c.ID, "passport", "passport.pdf",
		pdfWithText("Passport P7654321, norwegian citizenship application"))

	_, err := o.Enqueue(ctx, c.ID, owner.ID, false)
	require.NoError(t, err)
	o.drain(ctx, uuid.New(), testLogger())

	first, err := testDB.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusReviewReady, first.Status)

	// Force a second run from review_ready. Documents drop back to uploaded
	// so extraction repeats, and the requeue is recorded as forced.
	requeued, err := o.Enqueue(ctx, c.ID, owner.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, requeued.Status)

	reset, err := testDB.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentUploaded, reset.Status)
	assert.Nil(t, reset.ExtractedText)

	events, err := testDB.ListAudit(ctx, c.ID)
	require.NoError(t, err)
	var sawForced bool
	for _, e := range events {
		if e.Action == model.AuditProcessingQueued && e.Metadata["force_reprocess"] == true {
			sawForced = true
		}
	}
	assert.True(t, sawForced)

	o.drain(ctx, uuid.New(), testLogger())

	second, err := testDB.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewReady, second.Status)

	results, err := testDB.ListRuleResults(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, results, 7)
}

func TestDrainCompletesCaseAbandonedByCrashedWorker(t *testing.T) {
	ctx := context.Background()
	o, files := newTestOrchestrator(t)

	owner := newPipelineUser(t)
	c := newPipelineCase(t, owner.ID)
	uploadPDF(t, files, c.ID, "passport", "passport.pdf",
		pdfWithText("Passport P1111111, swedish national"))

	_, err := o.Enqueue(ctx, c.ID, owner.ID, false)
	require.NoError(t, err)

	// A worker claims the case and then disappears without releasing.
	crashed := uuid.New()
	claimed, err := testDB.ClaimNextQueued(ctx, crashed)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessing, claimed.Status)

	time.Sleep(20 * time.Millisecond)
	recovered, err := testDB.ReclaimStaleLocks(ctx, time.Millisecond)
	require.NoError(t, err)
	require.Contains(t, recovered, c.ID)

	// A healthy worker picks the requeued case up and finishes it.
	o.drain(ctx, uuid.New(), testLogger())

	got, err := testDB.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewReady, got.Status)

	assertActionsInOrder(t, c.ID,
		model.AuditProcessingStarted,
		model.AuditProcessingRecovered,
		model.AuditProcessingStarted,
		model.AuditProcessingCompleted,
	)
}

func TestConcurrentEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o, files := newTestOrchestrator(t)

	owner := newPipelineUser(t)
	c := newPipelineCase(t, owner.ID)
	uploadPDF(t, files, c.ID, "passport", "passport.pdf",
		pdfWithText("Passport P2222222"))

	// Both callers race draft-adjacent state into queued. Whoever loses the
	// row lock must still see success, not a transition conflict.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	states := make([]model.Case, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = o.Enqueue(ctx, c.ID, owner.ID, false)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, model.StatusQueued, states[i].Status, "caller %d", i)
	}

	got, err := testDB.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
}
