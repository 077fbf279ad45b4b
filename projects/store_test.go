package projects_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/chat"
	"github.com/AnastRaja/chatbot-sub000/database/dbtest"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/leads"
	"github.com/AnastRaja/chatbot-sub000/llm"
	"github.com/AnastRaja/chatbot-sub000/projects"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	return dbtest.Open(t,
		&projects.Project{},
		&knowledge.Document{},
		&knowledge.Chunk{},
		&chat.Session{},
		&chat.Message{},
		&leads.Lead{},
	)
}

func strPtr(s string) *string { return &s }

func TestCreateAppliesDefaults(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)

	project, err := store.Create(context.Background(), 1, projects.Input{Name: strPtr("  Acme Dental  ")})
	require.NoError(t, err)

	assert.Equal(t, "Acme Dental", project.Name)
	assert.True(t, strings.HasPrefix(project.Slug, "acme-dental-"), project.Slug)
	assert.Equal(t, "#2563eb", project.Color)
	assert.JSONEq(t, `{}`, string(project.Context))
	settings := project.Config()
	assert.Equal(t, projects.ToneFriendly, settings.Tone)
	assert.True(t, settings.LeadGenEnabled)
}

func TestCreateValidatesInput(t *testing.T) {
	store := projects.NewStore(openDB(t), 2)
	ctx := context.Background()

	cases := []struct {
		name  string
		input projects.Input
	}{
		{"missing name", projects.Input{}},
		{"blank name", projects.Input{Name: strPtr("   ")}},
		{"bad color", projects.Input{Name: strPtr("A"), Color: strPtr("blue")}},
		{"context not object", projects.Input{Name: strPtr("A"), Context: json.RawMessage(`[1,2]`)}},
		{"unknown tone", projects.Input{Name: strPtr("A"), Settings: &projects.Settings{Tone: "sarcastic"}}},
		{"negative delay", projects.Input{Name: strPtr("A"), Settings: &projects.Settings{AutoOpenDelay: -1}}},
		{"too many questions", projects.Input{Name: strPtr("A"), QuickQuestions: &[]projects.QuickQuestion{
			{Question: "a"}, {Question: "b"}, {Question: "c"},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Create(ctx, 1, tc.input)
			assert.ErrorIs(t, err, projects.ErrInvalid)
		})
	}

	_, err := store.Create(ctx, 0, projects.Input{Name: strPtr("A")})
	assert.ErrorIs(t, err, projects.ErrInvalid)
}

func TestOwnershipScopesLookups(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)
	ctx := context.Background()

	mine, err := store.Create(ctx, 1, projects.Input{Name: strPtr("Mine")})
	require.NoError(t, err)
	_, err = store.Create(ctx, 2, projects.Input{Name: strPtr("Theirs")})
	require.NoError(t, err)

	found, err := store.FindOwned(ctx, 1, mine.Slug)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, found.ID)

	_, err = store.FindOwned(ctx, 2, mine.Slug)
	assert.ErrorIs(t, err, projects.ErrNotFound)

	list, err := store.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ids, err := store.IDsByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{mine.ID}, ids)

	_, err = store.FindBySlug(ctx, "")
	assert.ErrorIs(t, err, projects.ErrNotFound)
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)
	ctx := context.Background()

	project, err := store.Create(ctx, 1, projects.Input{
		Name:    strPtr("Acme"),
		Context: json.RawMessage(`{"hours":"9-5"}`),
	})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, project, projects.Input{Color: strPtr("#FF0000")}))

	reloaded, err := store.FindByID(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", reloaded.Name)
	assert.Equal(t, "#ff0000", reloaded.Color)
	assert.JSONEq(t, `{"hours":"9-5"}`, string(reloaded.Context))
}

func TestModelPolicy(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)
	store.RestrictModels(llm.NewCatalog([]llm.ModelOption{{Provider: "openai", Name: "gpt-4o-mini"}}))
	ctx := context.Background()

	_, err := store.Create(ctx, 1, projects.Input{Name: strPtr("A"), Settings: &projects.Settings{Model: "made-up"}})
	assert.ErrorIs(t, err, projects.ErrInvalid)

	project, err := store.Create(ctx, 1, projects.Input{Name: strPtr("A"), Settings: &projects.Settings{Model: "GPT-4o-mini"}})
	require.NoError(t, err)
	assert.Equal(t, "GPT-4o-mini", project.Config().Model)
}

func TestDeleteCascadesAndRunsHooks(t *testing.T) {
	db := openDB(t)
	store := projects.NewStore(db, 5)
	ctx := context.Background()

	var hooked, cleaned []uint64
	store.OnDelete(func(_ context.Context, projectID uint64) (func(context.Context) error, error) {
		hooked = append(hooked, projectID)
		return func(ctx context.Context) error {
			_, err := store.FindByID(ctx, projectID)
			require.ErrorIs(t, err, projects.ErrNotFound)
			cleaned = append(cleaned, projectID)
			return errors.New("bucket unreachable")
		}, nil
	})

	doomed, err := store.Create(ctx, 1, projects.Input{Name: strPtr("Doomed")})
	require.NoError(t, err)
	kept, err := store.Create(ctx, 1, projects.Input{Name: strPtr("Kept")})
	require.NoError(t, err)

	ledger := chat.NewLedger(db, nil, chatConfig())
	for _, projectID := range []uint64{doomed.ID, kept.ID} {
		session, err := ledger.Create(ctx, projectID, chat.ClientMetadata{})
		require.NoError(t, err)
		require.NoError(t, ledger.Append(ctx, &chat.Message{SessionID: session.ID, ProjectID: projectID, Sender: chat.SenderUser, Content: "a@b.com"}))
		_, err = leads.NewEngine(db).Merge(ctx, leads.MergeInput{ProjectID: projectID, SessionID: session.ID, Text: "a@b.com"})
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, doomed.ID))
	assert.Equal(t, []uint64{doomed.ID}, hooked)
	assert.Equal(t, []uint64{doomed.ID}, cleaned)

	_, err = store.FindByID(ctx, doomed.ID)
	assert.ErrorIs(t, err, projects.ErrNotFound)

	for _, model := range []interface{}{&chat.Session{}, &chat.Message{}, &leads.Lead{}} {
		var remaining, foreign int64
		require.NoError(t, db.Model(model).Where("project_id = ?", doomed.ID).Count(&remaining).Error)
		require.NoError(t, db.Model(model).Where("project_id = ?", kept.ID).Count(&foreign).Error)
		assert.Zero(t, remaining)
		assert.Equal(t, int64(1), foreign)
	}

	assert.ErrorIs(t, store.Delete(ctx, doomed.ID), projects.ErrNotFound)
	assert.Len(t, hooked, 1)
}

func TestDeleteSkipsHooksForMissingProject(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)

	called := false
	store.OnDelete(func(context.Context, uint64) (func(context.Context) error, error) {
		called = true
		return nil, nil
	})

	assert.ErrorIs(t, store.Delete(context.Background(), 404), projects.ErrNotFound)
	assert.False(t, called)
}

func TestDeleteRollbackSkipsCleanup(t *testing.T) {
	db := openDB(t)
	store := projects.NewStore(db, 5)
	ctx := context.Background()

	project, err := store.Create(ctx, 1, projects.Input{Name: strPtr("Fragile")})
	require.NoError(t, err)

	prepared, cleaned := false, false
	store.OnDelete(func(context.Context, uint64) (func(context.Context) error, error) {
		prepared = true
		return func(context.Context) error {
			cleaned = true
			return nil
		}, nil
	})

	require.NoError(t, db.Migrator().DropTable(&leads.Lead{}))

	require.Error(t, store.Delete(ctx, project.ID))
	assert.True(t, prepared)
	assert.False(t, cleaned)

	_, err = store.FindByID(ctx, project.ID)
	assert.NoError(t, err)
}

func TestDeleteAbortsWhenHookFails(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)
	ctx := context.Background()

	project, err := store.Create(ctx, 1, projects.Input{Name: strPtr("Guarded")})
	require.NoError(t, err)

	store.OnDelete(func(context.Context, uint64) (func(context.Context) error, error) {
		return nil, errors.New("listing failed")
	})

	require.Error(t, store.Delete(ctx, project.ID))
	_, err = store.FindByID(ctx, project.ID)
	assert.NoError(t, err)
}

func TestAnswerForMatchesNormalizedQuestion(t *testing.T) {
	store := projects.NewStore(openDB(t), 5)
	project, err := store.Create(context.Background(), 1, projects.Input{
		Name: strPtr("A"),
		QuickQuestions: &[]projects.QuickQuestion{
			{Question: "Do you offer   refunds?", Answer: "Within 30 days."},
			{Question: "No answer yet", Answer: ""},
			{Question: "   "},
		},
	})
	require.NoError(t, err)
	require.Len(t, project.QuickQuestions, 2)

	answer, ok := project.AnswerFor("do you offer refunds?")
	assert.True(t, ok)
	assert.Equal(t, "Within 30 days.", answer)

	_, ok = project.AnswerFor("no answer yet")
	assert.False(t, ok)
	_, ok = project.AnswerFor("refunds")
	assert.False(t, ok)
}
